// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/config"
	"github.com/relabs-tech/imu_calibration/internal/imu"
	"github.com/relabs-tech/imu_calibration/internal/orientation"
	"github.com/relabs-tech/imu_calibration/internal/sensors"
)

// ErrBusy is returned while a calibration run owns the IMU.
var ErrBusy = errors.New("IMU busy with a calibration run")

// IMU bundles one chip with its calibrated accelerometer and gyroscope.
// All bus traffic goes through mu so the producer loop, the websocket
// sessions and the register tool can share the chip.
type IMU struct {
	mu          sync.Mutex
	calibrating bool // guarded by mu, set for the length of a run

	chip  *sensors.MPU9250
	accel *calibration.Accelerometer
	gyro  *calibration.Gyroscope

	// last committed records, readable during a run
	params atomic.Pointer[ParamsRecord]
}

// ParamsRecord is the published form of both calibration records.
type ParamsRecord struct {
	IMU       string `json:"imu"`
	Timestamp string `json:"timestamp,omitempty"`

	Accel           calibration.AccelParams `json:"accel"`
	AccelThresholds calibration.Thresholds  `json:"accel_thresholds"`
	AccelCalibrated bool                    `json:"accel_calibrated"`

	Gyro           calibration.GyroParams `json:"gyro"`
	GyroScale      calibration.Vector     `json:"gyro_scale"`
	GyroCalibrated bool                   `json:"gyro_calibrated"`
}

// NewIMU wraps chip and seeds both drift models from cfg. Accelerometer
// reads fail with calibration.ErrNotCalibrated until a record is calibrated
// or written; the gyroscope already reads in rad/s from its datasheet scale.
func NewIMU(chip *sensors.MPU9250, cfg *config.Config) *IMU {
	m := &IMU{
		chip:  chip,
		accel: calibration.NewAccelerometer(chip.Accel(), chip.AccelThresholds()),
		gyro:  calibration.NewGyroscope(chip.Gyro(), chip.GyroScale()),
	}
	m.accel.RequireCalibration(true)
	if cfg != nil {
		m.accel.SetDrift(calibration.Drift{A: cfg.AccelDriftA, B: cfg.AccelDriftB})
		m.gyro.SetDrift(calibration.Drift{A: cfg.GyroDriftA, B: cfg.GyroDriftB})
	}
	m.commitLocked()
	return m
}

// Name is the chip label.
func (m *IMU) Name() string { return m.chip.Name() }

// Close releases the chip's bus. It fails with ErrBusy during a run.
func (m *IMU) Close() error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.chip.Close()
}

// lock takes mu for one short bus access. It never waits out a calibration
// run: once a run has started it returns ErrBusy with mu released.
func (m *IMU) lock() error {
	m.mu.Lock()
	if m.calibrating {
		m.mu.Unlock()
		return ErrBusy
	}
	return nil
}

// ReadAccel returns one calibrated accelerometer reading in m/s².
func (m *IMU) ReadAccel() (calibration.Vector, error) {
	if err := m.lock(); err != nil {
		return calibration.Vector{}, err
	}
	defer m.mu.Unlock()
	return m.accel.ReadPhysical()
}

// ReadGyro returns one calibrated gyroscope reading in rad/s.
func (m *IMU) ReadGyro() (calibration.Vector, error) {
	if err := m.lock(); err != nil {
		return calibration.Vector{}, err
	}
	defer m.mu.Unlock()
	return m.gyro.ReadPhysical()
}

type readerFunc func() (calibration.Vector, error)

func (f readerFunc) ReadPhysical() (calibration.Vector, error) { return f() }

// PoseSource returns a tilt source fed by the calibrated accelerometer.
func (m *IMU) PoseSource() orientation.Source {
	return orientation.NewAccelSource(readerFunc(m.ReadAccel))
}

// ReadRaw returns one uncalibrated sample from "accel" or "gyro".
func (m *IMU) ReadRaw(sensor string) (imu.RawSample, error) {
	src, err := m.source(sensor)
	if err != nil {
		return imu.RawSample{}, err
	}
	if err := m.lock(); err != nil {
		return imu.RawSample{}, err
	}
	defer m.mu.Unlock()
	return imu.ReadSample(sensor, src)
}

func (m *IMU) source(sensor string) (imu.RawSource, error) {
	switch sensor {
	case "accel":
		return m.chip.Accel(), nil
	case "gyro":
		return m.chip.Gyro(), nil
	default:
		return nil, fmt.Errorf("unknown sensor %q (want accel or gyro)", sensor)
	}
}

// Params returns both calibration records as last committed. It never
// waits for a running calibration.
func (m *IMU) Params() ParamsRecord {
	return *m.params.Load()
}

func (m *IMU) commitLocked() ParamsRecord {
	rec := ParamsRecord{
		IMU:             m.chip.Name(),
		Timestamp:       time.Now().Format(time.RFC3339),
		Accel:           m.accel.ReadCalibrationParams(),
		AccelThresholds: m.accel.Thresholds(),
		AccelCalibrated: m.accel.Calibrated(),
		Gyro:            m.gyro.ReadCalibrationParams(),
		GyroScale:       m.gyro.Scale(),
		GyroCalibrated:  m.gyro.Calibrated(),
	}
	m.params.Store(&rec)
	return rec
}

// SetParams writes both records. Thresholds and gyro scale are chip
// constants and are ignored.
func (m *IMU) SetParams(p ParamsRecord) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.accel.WriteCalibrationParams(p.Accel)
	m.gyro.WriteCalibrationParams(p.Gyro)
	m.commitLocked()
	return nil
}

// ErrParamsMismatch is returned by AdoptParams for a record taken from
// another chip or at other ranges.
var ErrParamsMismatch = errors.New("calibration record does not match this IMU")

// AdoptParams installs the calibrated parts of a record published by another
// process for the same chip. Parts not marked calibrated are left alone.
func (m *IMU) AdoptParams(p ParamsRecord) error {
	if p.IMU != m.chip.Name() || p.AccelThresholds != m.accel.Thresholds() || p.GyroScale != m.gyro.Scale() {
		return fmt.Errorf("%w: got %s %+v %+v", ErrParamsMismatch, p.IMU, p.AccelThresholds, p.GyroScale)
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if p.AccelCalibrated {
		m.accel.WriteCalibrationParams(p.Accel)
	}
	if p.GyroCalibrated {
		m.gyro.WriteCalibrationParams(p.Gyro)
	}
	m.commitLocked()
	return nil
}

// Calibrate runs the accelerometer ("accel") or gyroscope ("gyro")
// calibration while holding the bus. Only one run can be active.
func (m *IMU) Calibrate(ctx context.Context, sensor string, opts ...calibration.Option) (ParamsRecord, error) {
	var run func(context.Context, ...calibration.Option) error
	switch sensor {
	case "accel":
		run = m.accel.Calibrate
	case "gyro":
		run = m.gyro.Calibrate
	default:
		return ParamsRecord{}, fmt.Errorf("unknown sensor %q (want accel or gyro)", sensor)
	}

	if err := m.lock(); err != nil {
		return ParamsRecord{}, err
	}
	m.calibrating = true
	m.mu.Unlock()

	// The run owns the bus without holding mu. Every other access checks
	// calibrating under mu and backs off.
	err := run(ctx, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrating = false
	if err != nil {
		return ParamsRecord{}, err
	}
	return m.commitLocked(), nil
}

// ReadRegister reads one chip register.
func (m *IMU) ReadRegister(reg int) (int, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	return m.chip.Registers().ReadRegister(reg)
}

// WriteRegister writes one chip register.
func (m *IMU) WriteRegister(reg, value int) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.chip.WriteRegister(reg, value)
}
