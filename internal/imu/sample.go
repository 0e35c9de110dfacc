// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// RawSample represents a single raw three-axis reading plus die temperature.
// It is produced once per read and not retained.
type RawSample struct {
	Source string `json:"source"` // "accel" or "gyro"

	X int `json:"x"` // raw counts
	Y int `json:"y"`
	Z int `json:"z"`

	Temperature float64 `json:"temp_c"` // °C
}

// RawSource is the per-chip capability the calibration layer samples from.
// Implementations sit on top of a register bus and carry no calibration state.
type RawSource interface {
	ReadRawAxes() (x, y, z int, err error)
	ReadTemperature() (float64, error)
}

// ReadSample reads the axes and then the temperature from src.
func ReadSample(source string, src RawSource) (RawSample, error) {
	x, y, z, err := src.ReadRawAxes()
	if err != nil {
		return RawSample{}, err
	}
	t, err := src.ReadTemperature()
	if err != nil {
		return RawSample{}, err
	}
	return RawSample{Source: source, X: x, Y: y, Z: z, Temperature: t}, nil
}
