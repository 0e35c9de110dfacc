// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

// Drift is the linear temperature model of the zero offset:
//
//	drift = temperature*A + B
//
// The zero pair means no drift experiment was done and disables correction.
type Drift struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Fitted reports whether a drift model has been set.
func (d Drift) Fitted() bool {
	return d.A != 0 || d.B != 0
}

// At returns the raw-unit drift at the given temperature (°C).
func (d Drift) At(temperature float64) float64 {
	if !d.Fitted() {
		return 0
	}
	return temperature*d.A + d.B
}

// Correct removes the drift from one raw axis value.
func (d Drift) Correct(raw int, temperature float64) float64 {
	return float64(raw) - d.At(temperature)
}

// DriftPoint is one observation for FitDrift: the mean stationary raw output
// of a sensor at a given temperature.
type DriftPoint struct {
	Temperature float64 `json:"temp_c"`
	Raw         float64 `json:"raw"`
}

// FitDrift fits a least-squares line through the points.
func FitDrift(points []DriftPoint) (Drift, error) {
	if len(points) < 2 {
		return Drift{}, ErrInsufficientDriftData
	}
	var sx, sy, sxx, sxy float64
	for _, p := range points {
		sx += p.Temperature
		sy += p.Raw
		sxx += p.Temperature * p.Temperature
		sxy += p.Temperature * p.Raw
	}
	n := float64(len(points))
	den := n*sxx - sx*sx
	// identical temperatures cancel only up to rounding
	if den <= 1e-9*n*sxx {
		return Drift{}, ErrInsufficientDriftData
	}
	a := (n*sxy - sx*sy) / den
	return Drift{A: a, B: (sy - a*sx) / n}, nil
}
