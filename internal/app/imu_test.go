// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

func newSimIMU(t *testing.T, opts sensors.SimOpts) (*IMU, *sensors.Simulator) {
	t.Helper()
	sim := sensors.NewSimulator(opts)
	chip, err := sensors.NewMPU9250("sim", sim, sensors.DefaultOpts)
	require.NoError(t, err)
	return NewIMU(chip, nil), sim
}

func TestNewIMUSeedsDrift(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultSimOpts)
	chip, err := sensors.NewMPU9250("sim", sim, sensors.DefaultOpts)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.AccelDriftA, cfg.AccelDriftB = 0.5, -1
	cfg.GyroDriftA, cfg.GyroDriftB = 0.25, 2
	m := NewIMU(chip, cfg)

	p := m.Params()
	assert.Equal(t, "sim", p.IMU)
	assert.Equal(t, calibration.Drift{A: 0.5, B: -1}, p.Accel.Drift)
	assert.Equal(t, calibration.Drift{A: 0.25, B: 2}, p.Gyro.Drift)
	assert.False(t, p.AccelCalibrated, "a configured drift is not a calibration")
	assert.False(t, p.GyroCalibrated)
	assert.Equal(t, chip.AccelThresholds(), p.AccelThresholds)
	assert.Equal(t, chip.GyroScale(), p.GyroScale)
}

func TestIMUCalibrateGyro(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)

	var last calibration.Progress
	rec, err := RunCalibration(context.Background(), m, "gyro", time.Minute, func(p calibration.Progress) { last = p })
	require.NoError(t, err)

	assert.True(t, rec.GyroCalibrated)
	assert.InDelta(t, sensors.DefaultSimOpts.GyroBias[0], rec.Gyro.Offset.X, 2)
	assert.Equal(t, 1, last.Done)
	assert.Equal(t, calibration.SampleTarget, last.Accepted)
	assert.Equal(t, rec, m.Params())
}

func TestIMUCalibrateAccel(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)

	rec, err := m.Calibrate(context.Background(), "accel")
	require.NoError(t, err)
	assert.True(t, rec.AccelCalibrated)
	assert.False(t, rec.GyroCalibrated)

	// whatever the pose, a still chip reads 1g once calibrated
	v, err := m.ReadAccel()
	require.NoError(t, err)
	assert.InDelta(t, calibration.Physical1G, math.Sqrt(v.X*v.X+v.Y*v.Y+v.Z*v.Z), 0.05)
}

func TestIMUCalibrateUnknownSensor(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)
	_, err := m.Calibrate(context.Background(), "mag")
	require.Error(t, err)
	_, err = m.ReadRaw("mag")
	require.Error(t, err)
}

func TestIMUBusyDuringCalibration(t *testing.T) {
	m, sim := newSimIMU(t, sensors.DefaultSimOpts)

	started := make(chan struct{})
	release := make(chan struct{})
	var once bool
	sim.OnRead = func(reg int) {
		if !once {
			once = true
			close(started)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Calibrate(context.Background(), "gyro")
		done <- err
	}()
	<-started

	_, err := m.ReadAccel()
	require.ErrorIs(t, err, ErrBusy)
	_, err = m.Calibrate(context.Background(), "accel")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, m.SetParams(ParamsRecord{}), ErrBusy)
	_, err = m.ReadRegister(0x75)
	require.ErrorIs(t, err, ErrBusy)

	// the snapshot is still served
	assert.False(t, m.Params().GyroCalibrated)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, m.Params().GyroCalibrated)
}

func TestIMUCalibrateFailureKeepsParams(t *testing.T) {
	m, sim := newSimIMU(t, sensors.DefaultSimOpts)
	before := m.Params()

	stalled := errors.New("stalled")
	sim.FailRead(500, stalled)
	_, err := m.Calibrate(context.Background(), "gyro")
	require.ErrorIs(t, err, stalled)

	var ioErr *calibration.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, before, m.Params())
}

func TestRunCalibrationTimeout(t *testing.T) {
	// never leaves Z up, so the accel run cannot finish
	opts := sensors.DefaultSimOpts
	opts.PoseSamples = 0
	m, _ := newSimIMU(t, opts)

	_, err := RunCalibration(context.Background(), m, "accel", 20*time.Millisecond, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.Params().AccelCalibrated)
}

func TestSetParams(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)
	in := ParamsRecord{
		Accel: calibration.AccelParams{
			Offset: calibration.Axes{X: 1, Y: 2, Z: 3},
			Scale:  calibration.Vector{X: 0.1, Y: 0.2, Z: 0.3},
		},
		Gyro: calibration.GyroParams{Offset: calibration.Axes{X: -4}},
		// chip constants in the record are ignored
		GyroScale: calibration.Vector{X: 99},
	}
	require.NoError(t, m.SetParams(in))

	out := m.Params()
	assert.Equal(t, in.Accel, out.Accel)
	assert.Equal(t, in.Gyro, out.Gyro)
	assert.True(t, out.AccelCalibrated)
	assert.True(t, out.GyroCalibrated)
	assert.NotEqual(t, in.GyroScale, out.GyroScale)
}

func TestReadRawAndRegisters(t *testing.T) {
	opts := sensors.DefaultSimOpts
	opts.PoseSamples, opts.Noise = 0, 0
	m, _ := newSimIMU(t, opts)

	s, err := m.ReadRaw("gyro")
	require.NoError(t, err)
	assert.Equal(t, "gyro", s.Source)
	assert.Equal(t, []int{-35, 18, 7}, []int{s.X, s.Y, s.Z})
	assert.InDelta(t, 25, s.Temperature, 0.01)

	id, err := m.ReadRegister(0x75)
	require.NoError(t, err)
	assert.Equal(t, 0x71, id)
	require.NoError(t, m.WriteRegister(0x19, 4))
	v, err := m.ReadRegister(0x19)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestCollectDriftSample(t *testing.T) {
	opts := sensors.DefaultSimOpts
	opts.PoseSamples, opts.Noise = 0, 0
	m, _ := newSimIMU(t, opts)

	ds, err := CollectDriftSample(context.Background(), m, "gyro", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Samples)
	assert.Equal(t, [3]float64{-35, 18, 7}, ds.Mean)
	assert.InDelta(t, 25, ds.Temperature, 0.01)

	_, err = CollectDriftSample(context.Background(), m, "gyro", 0)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CollectDriftSample(ctx, m, "gyro", 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDriftPoints(t *testing.T) {
	assert.Nil(t, DriftPoints(nil))

	samples := []DriftSample{
		{Temperature: 20, Mean: [3]float64{10, 20, 30}},
		{Temperature: 30, Mean: [3]float64{13, 23, 33}},
		{Temperature: 40, Mean: [3]float64{16, 26, 36}},
	}
	points := DriftPoints(samples)
	require.Len(t, points, 3)
	assert.Equal(t, calibration.DriftPoint{Temperature: 20, Raw: 0}, points[0])
	assert.Equal(t, calibration.DriftPoint{Temperature: 30, Raw: 3}, points[1])

	d, err := calibration.FitDrift(points)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, d.A, 1e-12)
	assert.InDelta(t, 0, d.At(20), 1e-9)
}

// flatAccel is a calibration record for the default simulated chip.
func flatAccel() calibration.AccelParams {
	b := sensors.DefaultSimOpts.AccelBias
	s := calibration.Physical1G / 16384
	return calibration.AccelParams{
		Offset: calibration.Axes{X: b[0], Y: b[1], Z: b[2]},
		Scale:  calibration.Vector{X: s, Y: s, Z: s},
	}
}

func TestUncalibratedAccelIsReported(t *testing.T) {
	opts := sensors.DefaultSimOpts
	opts.PoseSamples = 0
	m, _ := newSimIMU(t, opts)

	raw, err := m.ReadRaw("accel")
	require.NoError(t, err)
	assert.Greater(t, raw.Z, 16000)

	_, err = m.ReadAccel()
	require.ErrorIs(t, err, calibration.ErrNotCalibrated)
	_, err = m.PoseSource().Next()
	require.ErrorIs(t, err, calibration.ErrNotCalibrated)

	// the gyro reads in rad/s from its datasheet scale
	_, err = m.ReadGyro()
	require.NoError(t, err)

	require.NoError(t, m.SetParams(ParamsRecord{Accel: flatAccel()}))
	v, err := m.ReadAccel()
	require.NoError(t, err)
	assert.InDelta(t, calibration.Physical1G, v.Z, 0.05)
	pose, err := m.PoseSource().Next()
	require.NoError(t, err)
	assert.InDelta(t, 0, pose.Roll, 1)
	assert.InDelta(t, 0, pose.Pitch, 1)
}

// A read queued behind another read must finish, or get ErrBusy, without
// waiting for a calibration run that starts meanwhile.
func TestQueuedReadDoesNotWaitForRun(t *testing.T) {
	m, sim := newSimIMU(t, sensors.DefaultSimOpts)

	firstRead, releaseRead := make(chan struct{}), make(chan struct{})
	runStarted, releaseRun := make(chan struct{}), make(chan struct{})
	var readOnce, runOnce sync.Once
	generate := sim.OnRead
	sim.OnRead = func(reg int) {
		switch reg {
		case 0x43:
			readOnce.Do(func() {
				close(firstRead)
				<-releaseRead
			})
		case 0x3B:
			runOnce.Do(func() {
				close(runStarted)
				<-releaseRun
			})
		}
		generate(reg)
	}

	go func() { _, _ = m.ReadGyro() }()
	<-firstRead

	queued := make(chan error, 1)
	go func() {
		_, err := m.ReadGyro()
		queued <- err
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := m.Calibrate(context.Background(), "accel")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseRead)

	select {
	case err := <-queued:
		if err != nil {
			require.ErrorIs(t, err, ErrBusy)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued read waited for the calibration run")
	}

	<-runStarted
	_, err := m.ReadGyro()
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, m.Close(), ErrBusy)

	close(releaseRun)
	require.NoError(t, <-done)
	_, err = m.ReadGyro()
	require.NoError(t, err)
}

func TestAdoptParams(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)

	rec := m.Params()
	rec.Accel = flatAccel()
	rec.AccelCalibrated = true
	rec.Gyro.Offset = calibration.Axes{X: 99}
	rec.GyroCalibrated = false
	require.NoError(t, m.AdoptParams(rec))

	got := m.Params()
	assert.Equal(t, flatAccel(), got.Accel)
	assert.True(t, got.AccelCalibrated)
	assert.Zero(t, got.Gyro.Offset, "uncalibrated parts are not adopted")
	assert.False(t, got.GyroCalibrated)

	other := rec
	other.IMU = "right"
	require.ErrorIs(t, m.AdoptParams(other), ErrParamsMismatch)

	ranged := rec
	ranged.AccelThresholds.Raw1g = 8192
	require.ErrorIs(t, m.AdoptParams(ranged), ErrParamsMismatch)
}

func TestWriteRangeRegisterRefused(t *testing.T) {
	m, _ := newSimIMU(t, sensors.DefaultSimOpts)
	before := m.Params()

	require.ErrorIs(t, m.WriteRegister(0x1C, 0x18), sensors.ErrFixedRegister)
	require.ErrorIs(t, m.WriteRegister(0x1B, 0x18), sensors.ErrFixedRegister)
	v, err := m.ReadRegister(0x1C)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, before.AccelThresholds, m.Params().AccelThresholds)
}
