// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"fmt"
	"math"

	"github.com/relabs-tech/imu_calibration/internal/imu"
)

// Gyroscope turns raw gyroscope samples into rad/s and estimates its zero
// offset from a stationary run.
type Gyroscope struct {
	src        imu.RawSource
	scale      Vector
	params     GyroParams
	calibrated bool
	strict     bool
	filter     Filter
}

// NewGyroscope wraps src. scale is the datasheet conversion in rad/s per
// count and never changes afterwards.
func NewGyroscope(src imu.RawSource, scale Vector) *Gyroscope {
	return &Gyroscope{src: src, scale: scale}
}

// Scale returns the datasheet scale.
func (g *Gyroscope) Scale() Vector { return g.scale }

// SetFilter installs a post-processing stage; nil removes it.
func (g *Gyroscope) SetFilter(f Filter) { g.filter = f }

// RequireCalibration makes ReadPhysical fail with ErrNotCalibrated until
// Calibrate or WriteCalibrationParams has run.
func (g *Gyroscope) RequireCalibration(strict bool) { g.strict = strict }

// Calibrated reports whether the parameters came from a run or a write.
func (g *Gyroscope) Calibrated() bool { return g.calibrated }

// ReadCalibrationParams returns a copy of the current record.
func (g *Gyroscope) ReadCalibrationParams() GyroParams { return g.params }

// WriteCalibrationParams replaces the current record. The scale is not part
// of it.
func (g *Gyroscope) WriteCalibrationParams(p GyroParams) {
	g.params = p
	g.calibrated = true
}

// SetDrift installs a drift model from a separate temperature experiment.
// It does not count as a calibration.
func (g *Gyroscope) SetDrift(d Drift) { g.params.Drift = d }

// ReadPhysical returns one calibrated reading in rad/s.
func (g *Gyroscope) ReadPhysical() (Vector, error) {
	if g.strict && !g.calibrated {
		return Vector{}, ErrNotCalibrated
	}
	v, err := readPhysical(g.src, "gyroscope", g.params.Offset, g.scale, g.params.Drift)
	if err != nil {
		return Vector{}, err
	}
	if g.filter != nil {
		v = g.filter.Filter(v)
	}
	return v, nil
}

// Calibrate averages SampleTarget drift-corrected samples. The sensor must
// stay still for the whole run. The current drift model is applied, so a
// drift fit may precede this call.
//
// Parameters are replaced only on success.
func (g *Gyroscope) Calibrate(ctx context.Context, opts ...Option) error {
	o := newRunOptions(opts)
	drift := g.params.Drift

	var sum, sumSq [3]float64
	for i := 0; i < SampleTarget; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gyroscope calibration aborted after %d reads: %w", i, err)
		}
		x, y, z, err := g.src.ReadRawAxes()
		if err != nil {
			return &IOError{Op: "read gyroscope axes", Err: err}
		}
		t, err := g.src.ReadTemperature()
		if err != nil {
			return &IOError{Op: "read gyroscope temperature", Err: err}
		}

		raw := Axes{X: x, Y: y, Z: z}
		for _, axis := range allAxes {
			c := drift.Correct(raw.get(axis), t)
			sum[axis] += c
			sumSq[axis] += c * c
		}

		if accepted := i + 1; accepted%o.every == 0 || accepted == SampleTarget {
			done := 0
			if accepted == SampleTarget {
				done = 1
			}
			o.report(Progress{Sensor: "gyro", Accepted: accepted, Target: SampleTarget, Done: done, Reads: accepted})
		}
	}

	var p GyroParams
	for _, axis := range allAxes {
		mean := sum[axis] / SampleTarget
		offset := math.Round(mean)
		s := g.scale.get(axis)
		p.Offset.set(axis, int(offset))
		p.Variance.set(axis, meanSquareAbout(sumSq[axis]/SampleTarget, mean, offset)*s*s)
	}
	p.Drift = drift
	g.params = p
	g.calibrated = true
	return nil
}
