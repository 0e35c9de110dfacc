// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/imu_calibration/internal/app"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

func main() {
	configPath := flag.String("config", "./inertial_config.txt", "path to configuration file")
	sim := flag.Bool("sim", false, "use the simulated IMU")
	flag.Parse()

	log.Println("starting IMU producer (calibrated accel/gyro → MQTT)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if *sim {
		cfg.IMUBus = "sim"
	}

	chip, err := sensors.Open(cfg)
	if err != nil {
		log.Fatalf("IMU init failed: %v", err)
	}
	m := app.NewIMU(chip, cfg)
	defer m.Close()

	producer, err := app.NewProducer(cfg, m)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := producer.Run(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
