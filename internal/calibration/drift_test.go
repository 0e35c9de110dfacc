// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftAt(t *testing.T) {
	tests := []struct {
		name  string
		drift Drift
		temp  float64
		want  float64
	}{
		{"unfitted", Drift{}, 42, 0},
		{"unfitted ignores infinite temperature", Drift{}, math.Inf(1), 0},
		{"slope only", Drift{A: 0.5}, 20, 10},
		{"intercept only", Drift{B: -3}, 20, -3},
		{"both", Drift{A: 2, B: 1}, 25, 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.drift.At(tt.temp))
		})
	}
}

func TestDriftCorrect(t *testing.T) {
	assert.Equal(t, 100.0, Drift{}.Correct(100, 80))
	assert.Equal(t, 89.0, Drift{A: 0.5, B: 1}.Correct(100, 20))
}

func TestFitDrift(t *testing.T) {
	points := []DriftPoint{
		{Temperature: 20, Raw: 2*20 + 5},
		{Temperature: 30, Raw: 2*30 + 5},
		{Temperature: 45, Raw: 2*45 + 5},
	}
	d, err := FitDrift(points)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d.A, 1e-9)
	assert.InDelta(t, 5.0, d.B, 1e-9)
}

func TestFitDriftInsufficientData(t *testing.T) {
	_, err := FitDrift(nil)
	assert.ErrorIs(t, err, ErrInsufficientDriftData)

	_, err = FitDrift([]DriftPoint{{Temperature: 25.1, Raw: 1}, {Temperature: 25.1, Raw: 3}, {Temperature: 25.1, Raw: 2}})
	assert.ErrorIs(t, err, ErrInsufficientDriftData)
}
