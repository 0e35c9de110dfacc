// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gyroScale = Vector{X: 1.3323e-4, Y: 1.3323e-4, Z: 2.6646e-4}

func TestGyroscopeCalibrate(t *testing.T) {
	bias := Axes{X: 100, Y: -50, Z: 7}
	noise := Axes{X: 3, Y: 2, Z: 1}
	src := &scriptSource{samples: repeat(SampleTarget, bias, noise), temperature: 31}

	gyro := NewGyroscope(src, gyroScale)
	var reports []Progress
	require.NoError(t, gyro.Calibrate(context.Background(), WithProgress(func(p Progress) { reports = append(reports, p) })))

	p := gyro.ReadCalibrationParams()
	assert.Equal(t, bias, p.Offset)
	for _, axis := range allAxes {
		n := float64(noise.get(axis))
		s := gyroScale.get(axis)
		assert.InDelta(t, n*n*s*s, p.Variance.get(axis), 1e-15, "variance %s", axis)
	}
	assert.Equal(t, SampleTarget, src.axisReads)
	assert.Equal(t, SampleTarget, src.tempReads)
	assert.Equal(t, gyroScale, gyro.Scale(), "scale is never recomputed")

	require.Len(t, reports, SampleTarget/100)
	assert.Equal(t, 1, reports[len(reports)-1].Done)
}

func TestGyroscopeCalibrateAppliesCurrentDrift(t *testing.T) {
	drift := Drift{A: 0.5, B: 1} // 11 counts at 20 °C
	src := &scriptSource{samples: []Axes{{X: 111, Y: 11, Z: -89}}, temperature: 20}

	gyro := NewGyroscope(src, gyroScale)
	gyro.WriteCalibrationParams(GyroParams{Drift: drift})
	require.NoError(t, gyro.Calibrate(context.Background()))

	p := gyro.ReadCalibrationParams()
	assert.Equal(t, Axes{X: 100, Y: 0, Z: -100}, p.Offset)
	assert.Equal(t, drift, p.Drift)
}

func TestGyroscopeCalibrateFractionalMean(t *testing.T) {
	// X alternates 10/11: mean 10.5, stored offset 11.
	src := &scriptSource{samples: []Axes{{X: 10}, {X: 11}}}

	gyro := NewGyroscope(src, gyroScale)
	require.NoError(t, gyro.Calibrate(context.Background()))

	p := gyro.ReadCalibrationParams()
	assert.Equal(t, 11, p.Offset.X)
	s := gyroScale.X
	assert.InDelta(t, 0.5*s*s, p.Variance.X, 1e-20)

	v, err := gyro.ReadPhysical()
	require.NoError(t, err)
	assert.InDelta(t, -s, v.X, 1e-15, "reads are taken against the stored offset")
}

func TestGyroscopeCalibrateFailureLeavesParamsUntouched(t *testing.T) {
	before := GyroParams{
		Offset:   Axes{X: 3, Y: -2, Z: 1},
		Variance: Vector{X: 1e-7, Y: math.SmallestNonzeroFloat64, Z: math.Copysign(0, -1)},
		Drift:    Drift{A: 0.01, B: -0.3},
	}

	tests := []struct {
		name string
		src  *scriptSource
	}{
		// the last sample carries the (SampleTarget*3)-th axis read
		{"axes fail on last sample", &scriptSource{samples: []Axes{{X: 9}}, failAxesOn: SampleTarget}},
		{"axes fail mid run", &scriptSource{samples: []Axes{{X: 9}}, failAxesOn: SampleTarget / 2}},
		{"temperature fails", &scriptSource{samples: []Axes{{X: 9}}, failTempOn: 17}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gyro := NewGyroscope(tt.src, gyroScale)
			gyro.WriteCalibrationParams(before)

			err := gyro.Calibrate(context.Background())
			var ioErr *IOError
			require.ErrorAs(t, err, &ioErr)
			assert.ErrorIs(t, err, errBus)
			assertGyroBitIdentical(t, before, gyro.ReadCalibrationParams())
		})
	}
}

func TestGyroscopeCalibrateCancelled(t *testing.T) {
	src := &scriptSource{samples: []Axes{{X: 1}}}
	gyro := NewGyroscope(src, gyroScale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gyro.Calibrate(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.axisReads)
	assert.False(t, gyro.Calibrated())
}

func assertGyroBitIdentical(t *testing.T, want, got GyroParams) {
	t.Helper()
	assert.Equal(t, want.Offset, got.Offset)
	for _, axis := range allAxes {
		assert.Equal(t, math.Float64bits(want.Variance.get(axis)), math.Float64bits(got.Variance.get(axis)), "variance %s", axis)
	}
	assert.Equal(t, math.Float64bits(want.Drift.A), math.Float64bits(got.Drift.A))
	assert.Equal(t, math.Float64bits(want.Drift.B), math.Float64bits(got.Drift.B))
}
