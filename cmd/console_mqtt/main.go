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
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting IMU console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		log.Fatalf("MQTT_BROKER is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
