// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/relabs-tech/imu_calibration/internal/imu"
)

// Filter is the extension point for a fusion or smoothing stage. It receives
// every calibrated reading before ReadPhysical returns it.
type Filter interface {
	Filter(Vector) Vector
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func(Vector) Vector

func (f FilterFunc) Filter(v Vector) Vector { return f(v) }

// readPhysical performs one drift-corrected, offset- and scale-corrected read.
// Each axis uses its own scale.
func readPhysical(src imu.RawSource, sensor string, offset Axes, scale Vector, drift Drift) (Vector, error) {
	x, y, z, err := src.ReadRawAxes()
	if err != nil {
		return Vector{}, &IOError{Op: "read " + sensor + " axes", Err: err}
	}
	t, err := src.ReadTemperature()
	if err != nil {
		return Vector{}, &IOError{Op: "read " + sensor + " temperature", Err: err}
	}

	raw := Axes{X: x, Y: y, Z: z}
	var out Vector
	for _, axis := range allAxes {
		corrected := drift.Correct(raw.get(axis), t)
		out.set(axis, (corrected-float64(offset.get(axis)))*scale.get(axis))
	}
	return out, nil
}

// meanSquareAbout returns E[(x-offset)^2] given E[x^2] and E[x]. It equals
// the sample variance when offset is the mean.
func meanSquareAbout(meanSq, mean, offset float64) float64 {
	return meanSq - 2*offset*mean + offset*offset
}

// Progress is reported while a calibration run accumulates samples.
type Progress struct {
	Sensor      string `json:"sensor"`                // "accel" or "gyro"
	Orientation string `json:"orientation,omitempty"` // accel only, e.g. "+Z"
	Accepted    int    `json:"accepted"`              // samples accepted so far (bucket-local for accel)
	Target      int    `json:"target"`
	Done        int    `json:"done"`  // buckets done (accel) or 0/1 (gyro)
	Reads       int    `json:"reads"` // raw reads issued so far
}

// Option configures a calibration run.
type Option func(*runOptions)

type runOptions struct {
	progress func(Progress)
	every    int
}

// WithProgress registers a callback invoked from the calibrating goroutine.
func WithProgress(fn func(Progress)) Option {
	return func(o *runOptions) { o.progress = fn }
}

// WithProgressEvery sets how many accepted samples pass between progress
// reports. Default 100.
func WithProgressEvery(n int) Option {
	return func(o *runOptions) {
		if n > 0 {
			o.every = n
		}
	}
}

func newRunOptions(opts []Option) runOptions {
	o := runOptions{every: 100}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o runOptions) report(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}
