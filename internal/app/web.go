// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/config"
)

// NewWebMux routes the calibration UI. onParams receives every committed
// calibration record and may be nil.
func NewWebMux(cfg *config.Config, m *IMU, onParams func(ParamsRecord)) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/calibration", HandleCalibrationWS(m, cfg.CalibrationTimeout, onParams))
	mux.HandleFunc("/ws/registers", HandleRegisterDebugWS(m.Name(), m))

	// JSON API endpoint: current parameter records
	mux.HandleFunc("/api/params", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Params())
	})

	// JSON API endpoint: one live calibrated reading
	mux.HandleFunc("/api/imu", HandleIMUData(m))

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// HandleIMUData serves one calibrated accel and gyro reading plus the tilt
// pose derived from the accel reading.
func HandleIMUData(m *IMU) http.HandlerFunc {
	pose := m.PoseSource()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		now := time.Now()

		a, err := m.ReadAccel()
		if err != nil {
			writeReadError(w, err)
			return
		}
		g, err := m.ReadGyro()
		if err != nil {
			writeReadError(w, err)
			return
		}
		p, err := pose.Next()
		if err != nil {
			writeReadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accel": newReading(m.Name(), "accel", a, now),
			"gyro":  newReading(m.Name(), "gyro", g, now),
			"pose":  p,
		})
	}
}

func writeReadError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrBusy) || errors.Is(err, calibration.ErrNotCalibrated) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// RunWeb serves the calibration UI on WEB_SERVER_PORT until ctx is done. When
// producer is not nil it runs alongside and republishes every new record.
func RunWeb(ctx context.Context, cfg *config.Config, m *IMU, producer *Producer) error {
	var onParams func(ParamsRecord)
	if producer != nil {
		onParams = func(rec ParamsRecord) {
			if err := producer.PublishParams(rec); err != nil {
				log.Printf("web: %v", err)
			}
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: NewWebMux(cfg, m, onParams),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("web server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if producer != nil {
		g.Go(func() error {
			return producer.Run(ctx)
		})
	}
	return g.Wait()
}
