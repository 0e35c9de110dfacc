// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math/rand/v2"
	"sync"

	"github.com/relabs-tech/imu_calibration/internal/bus"
	"github.com/relabs-tech/imu_calibration/internal/calibration"
)

// SimOpts describes the chip a Simulator pretends to be.
type SimOpts struct {
	AccelBias   [3]int // raw counts added to every accel axis
	GyroBias    [3]int
	Noise       int     // uniform ±Noise counts on every axis
	Temperature float64 // °C
	// PoseSamples is how many accel samples are produced per pose before
	// moving to the next one. 0 keeps the chip flat (Z up) forever.
	PoseSamples int
	Seed        uint64
}

// DefaultSimOpts is a slightly biased chip on a bench at 25 °C, rotated
// through all six poses.
var DefaultSimOpts = SimOpts{
	AccelBias:   [3]int{120, -85, 210},
	GyroBias:    [3]int{-35, 18, 7},
	Noise:       12,
	Temperature: 25,
	PoseSamples: calibration.SampleTarget + 50,
	Seed:        1,
}

// Simulator is an MPU9250 register file that produces a fresh sample
// whenever a driver starts reading an axis block.
type Simulator struct {
	*bus.Memory

	mu         sync.Mutex
	opts       SimOpts
	rng        *rand.Rand
	accelCount int
}

// NewSimulator returns a register file that identifies as an MPU9250.
func NewSimulator(opts SimOpts) *Simulator {
	s := &Simulator{
		Memory: bus.NewMemory(),
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	s.Set(regWhoAmI, whoAmIMPU9250)
	s.setInt16(regTempOutH, int((opts.Temperature-tempOffset)*tempSensitivity))
	s.OnRead = s.onRead
	return s
}

// Pose returns the orientation the next accel sample will be taken in.
func (s *Simulator) Pose() calibration.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose()
}

func (s *Simulator) pose() calibration.Orientation {
	if s.opts.PoseSamples <= 0 {
		return calibration.ZUp
	}
	n := len(calibration.Orientations)
	return calibration.Orientations[(s.accelCount/s.opts.PoseSamples)%n]
}

func (s *Simulator) onRead(reg int) {
	switch reg {
	case regAccelXoutH:
		s.mu.Lock()
		g := s.accelSample()
		s.accelCount++
		s.mu.Unlock()
		s.setAxes(regAccelXoutH, g)
	case regGyroXoutH:
		s.mu.Lock()
		var w [3]int
		for i := range w {
			w[i] = s.opts.GyroBias[i] + s.noise()
		}
		s.mu.Unlock()
		s.setAxes(regGyroXoutH, w)
	}
}

func (s *Simulator) accelSample() [3]int {
	raw1g := raw1gAt2g >> ((s.Get(regAccelConfig) >> 3) & 0x03)
	var v [3]int
	o := s.pose()
	i := int(o.GravityAxis())
	if o.Up() {
		v[i] = raw1g
	} else {
		v[i] = -raw1g
	}
	for i := range v {
		v[i] += s.opts.AccelBias[i] + s.noise()
	}
	return v
}

func (s *Simulator) noise() int {
	if s.opts.Noise <= 0 {
		return 0
	}
	return s.rng.IntN(2*s.opts.Noise+1) - s.opts.Noise
}

func (s *Simulator) setAxes(base int, v [3]int) {
	for i, raw := range v {
		s.setInt16(base+2*i, raw)
	}
}

func (s *Simulator) setInt16(regH, v int) {
	v = max(-32768, min(32767, v))
	s.Set(regH, v>>8)
	s.Set(regH+1, v)
}
