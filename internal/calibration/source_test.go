// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "errors"

var errBus = errors.New("bus stalled")

// scriptSource replays samples in order, cycling when exhausted.
type scriptSource struct {
	samples     []Axes
	temperature float64

	failAxesOn int // 1-based ReadRawAxes call that fails, 0 = never
	failTempOn int // 1-based ReadTemperature call that fails, 0 = never

	axisReads int
	tempReads int
}

func (s *scriptSource) ReadRawAxes() (int, int, int, error) {
	s.axisReads++
	if s.failAxesOn > 0 && s.axisReads == s.failAxesOn {
		return 0, 0, 0, errBus
	}
	v := s.samples[(s.axisReads-1)%len(s.samples)]
	return v.X, v.Y, v.Z, nil
}

func (s *scriptSource) ReadTemperature() (float64, error) {
	s.tempReads++
	if s.failTempOn > 0 && s.tempReads == s.failTempOn {
		return 0, errBus
	}
	return s.temperature, nil
}

// repeat returns n samples alternating between a+d and a-d on every axis
// where d is non-zero, so the mean is exactly a.
func repeat(n int, a Axes, d Axes) []Axes {
	out := make([]Axes, 0, n)
	for i := 0; i < n; i++ {
		sign := 1
		if i%2 == 1 {
			sign = -1
		}
		out = append(out, Axes{X: a.X + sign*d.X, Y: a.Y + sign*d.Y, Z: a.Z + sign*d.Z})
	}
	return out
}
