// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/imu"
)

// RunCalibration runs one calibration with a deadline and logs the outcome.
// progress may be nil.
func RunCalibration(ctx context.Context, m *IMU, sensor string, timeout time.Duration, progress func(calibration.Progress)) (ParamsRecord, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var opts []calibration.Option
	if progress != nil {
		opts = append(opts, calibration.WithProgress(progress))
	}

	log.Printf("calibration: %s %s run started (timeout %s)", m.Name(), sensor, timeout)
	start := time.Now()
	rec, err := m.Calibrate(ctx, sensor, opts...)
	if err != nil {
		log.Printf("calibration: %s %s run failed after %s: %v", m.Name(), sensor, time.Since(start).Round(time.Millisecond), err)
		return ParamsRecord{}, err
	}

	switch sensor {
	case "accel":
		p := rec.Accel
		log.Printf("calibration: accel offset=(%d,%d,%d) scale=(%.6g,%.6g,%.6g) variance=(%.3g,%.3g,%.3g)",
			p.Offset.X, p.Offset.Y, p.Offset.Z, p.Scale.X, p.Scale.Y, p.Scale.Z, p.Variance.X, p.Variance.Y, p.Variance.Z)
	case "gyro":
		p := rec.Gyro
		log.Printf("calibration: gyro offset=(%d,%d,%d) variance=(%.3g,%.3g,%.3g)",
			p.Offset.X, p.Offset.Y, p.Offset.Z, p.Variance.X, p.Variance.Y, p.Variance.Z)
	}
	log.Printf("calibration: %s %s run finished in %s", m.Name(), sensor, time.Since(start).Round(time.Millisecond))
	return rec, nil
}

// DriftSample is the stationary mean of every axis at one temperature.
type DriftSample struct {
	Temperature float64    `json:"temp_c"`
	Mean        [3]float64 `json:"mean"`
	Samples     int        `json:"samples"`
}

// CollectDriftSample averages n raw samples of a stationary sensor.
func CollectDriftSample(ctx context.Context, m *IMU, sensor string, n int) (DriftSample, error) {
	if n <= 0 {
		return DriftSample{}, fmt.Errorf("drift sample size must be positive, got %d", n)
	}
	var ds DriftSample
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return DriftSample{}, err
		}
		s, err := m.ReadRaw(sensor)
		if err != nil {
			return DriftSample{}, err
		}
		addSample(&ds, s)
	}
	for i := range ds.Mean {
		ds.Mean[i] /= float64(n)
	}
	ds.Temperature /= float64(n)
	return ds, nil
}

func addSample(ds *DriftSample, s imu.RawSample) {
	ds.Mean[0] += float64(s.X)
	ds.Mean[1] += float64(s.Y)
	ds.Mean[2] += float64(s.Z)
	ds.Temperature += s.Temperature
	ds.Samples++
}

// DriftPoints turns samples into fit points. The record carries one model
// for all three axes, so each point is the mean change across the axes
// relative to the first sample; the constant bias stays in the offset.
func DriftPoints(samples []DriftSample) []calibration.DriftPoint {
	if len(samples) == 0 {
		return nil
	}
	ref := samples[0].Mean
	points := make([]calibration.DriftPoint, len(samples))
	for i, s := range samples {
		var d float64
		for axis := range s.Mean {
			d += s.Mean[axis] - ref[axis]
		}
		points[i] = calibration.DriftPoint{Temperature: s.Temperature, Raw: d / 3}
	}
	return points
}
