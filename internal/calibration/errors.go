// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
)

// ErrNotCalibrated is returned by strict sensors that still hold the
// zero-valued parameter record.
var ErrNotCalibrated = errors.New("calibration: sensor not calibrated")

// ErrInsufficientDriftData is returned by FitDrift when the points do not
// span at least two distinct temperatures.
var ErrInsufficientDriftData = errors.New("calibration: drift fit needs at least two distinct temperatures")

// IOError reports a failed raw read from the underlying source.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("calibration: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// DegenerateCalibrationError reports an axis whose 1g reading never departed
// from its zero offset, so no scale can be derived for it.
type DegenerateCalibrationError struct {
	Axis Axis
}

func (e *DegenerateCalibrationError) Error() string {
	return fmt.Sprintf("calibration: degenerate scale on %s axis: no 1g deflection from offset", e.Axis)
}
