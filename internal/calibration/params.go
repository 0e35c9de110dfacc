// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration converts raw inertial samples into physical units and
// estimates the parameters needed to do so: per-axis zero offset, scale,
// noise variance and a linear temperature-drift model.
package calibration

import "fmt"

const (
	// SampleTarget is the number of accepted samples per orientation bucket
	// (accelerometer) and the length of a stationary run (gyroscope).
	SampleTarget = 1000

	// Physical1G is standard gravity in m/s².
	Physical1G = 9.80665
)

// Axis names one of the three sensor axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

var allAxes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Axes holds one raw integer value per axis.
type Axes struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (a Axes) get(axis Axis) int {
	switch axis {
	case AxisX:
		return a.X
	case AxisY:
		return a.Y
	default:
		return a.Z
	}
}

func (a *Axes) set(axis Axis, v int) {
	switch axis {
	case AxisX:
		a.X = v
	case AxisY:
		a.Y = v
	default:
		a.Z = v
	}
}

// Vector holds one float value per axis. Physical readings, scales and
// variances all use it.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector) get(axis Axis) float64 {
	switch axis {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

func (v *Vector) set(axis Axis, f float64) {
	switch axis {
	case AxisX:
		v.X = f
	case AxisY:
		v.Y = f
	default:
		v.Z = f
	}
}

// AccelParams is the accelerometer calibration record.
//
// Scale and Drift stay zero until a calibration run completes or the record
// is written explicitly.
type AccelParams struct {
	Offset   Axes   `json:"offset"`   // raw counts
	Scale    Vector `json:"scale"`    // m/s² per count
	Variance Vector `json:"variance"` // (m/s²)²
	Drift    Drift  `json:"drift"`
}

// GyroParams is the gyroscope calibration record. The scale is a datasheet
// constant owned by the Gyroscope and is deliberately absent here.
type GyroParams struct {
	Offset   Axes   `json:"offset"`   // raw counts
	Variance Vector `json:"variance"` // (rad/s)²
	Drift    Drift  `json:"drift"`
}

// Thresholds are the chip-specific classification constants used by the
// six-orientation accelerometer calibration.
type Thresholds struct {
	Raw0g int `json:"raw_0g_threshold"` // max |counts| still considered 0g
	Raw1g int `json:"raw_1g"`           // counts for 1g on any axis
}
