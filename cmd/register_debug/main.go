// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/relabs-tech/imu_calibration/internal/app"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

func main() {
	configPath := flag.String("config", "inertial_config.txt", "path to configuration file")
	sim := flag.Bool("sim", false, "use the simulated IMU")
	flag.Parse()

	log.Println("starting MPU9250 register debug tool (standalone)")

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

	http.HandleFunc("/ws", app.HandleRegisterDebugWS(m.Name(), m))

	// API endpoint for live IMU data
	http.HandleFunc("/api/imu", app.HandleIMUData(m))

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/register_debug.html")
	})

	addr := fmt.Sprintf(":%d", cfg.RegisterDebugPort)
	log.Printf("Register debug tool listening on %s", addr)
	log.Printf("Open http://localhost%s in your browser", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
