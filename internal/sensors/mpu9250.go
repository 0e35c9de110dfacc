// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/relabs-tech/imu_calibration/internal/bus"
	"github.com/relabs-tech/imu_calibration/internal/calibration"
	"github.com/relabs-tech/imu_calibration/internal/imu"
)

const (
	whoAmIMPU6500 = 0x70
	whoAmIMPU9250 = 0x71
	whoAmIMPU9255 = 0x73

	// TEMP_degC = TEMP_OUT / 333.87 + 21
	tempSensitivity = 333.87
	tempOffset      = 21.0

	raw1gAt2g = 16384 // LSB/g at ±2g
	gyroFSAt0 = 250   // °/s at FS_SEL=0
)

// ErrUnknownChip is returned when WHO_AM_I does not identify an MPU9250
// family part.
var ErrUnknownChip = errors.New("sensors: unexpected WHO_AM_I")

// ErrFixedRegister is returned for writes to a register whose value the
// calibration constants depend on.
var ErrFixedRegister = errors.New("sensors: register is fixed at init")

// Opts configures the MPU9250 at init time.
type Opts struct {
	AccelRange    byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange     byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	DLPF          byte // CONFIG.DLPF_CFG, 0-7
	SampleRateDiv byte // SMPLRT_DIV

	// Raw0gThreshold overrides the classification threshold for the
	// six-pose calibration; 0 selects raw1g/5.
	Raw0gThreshold int
}

// DefaultOpts is ±2g, ±250°/s, 41 Hz DLPF, 100 Hz output.
var DefaultOpts = Opts{DLPF: 3, SampleRateDiv: 9}

// MPU9250 is a register-level driver exposing the accelerometer and the
// gyroscope as separate raw sources.
type MPU9250 struct {
	name string
	regs bus.Registers
	opts Opts
	id   int
}

// NewMPU9250 checks the chip identity and applies opts.
func NewMPU9250(name string, regs bus.Registers, opts Opts) (*MPU9250, error) {
	if opts.AccelRange > 3 {
		return nil, fmt.Errorf("%s IMU: accel range %d out of 0-3", name, opts.AccelRange)
	}
	if opts.GyroRange > 3 {
		return nil, fmt.Errorf("%s IMU: gyro range %d out of 0-3", name, opts.GyroRange)
	}
	if opts.DLPF > 7 {
		return nil, fmt.Errorf("%s IMU: DLPF config %d out of 0-7", name, opts.DLPF)
	}

	id, err := regs.ReadRegister(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: read WHO_AM_I: %w", name, err)
	}
	switch id {
	case whoAmIMPU6500, whoAmIMPU9250, whoAmIMPU9255:
	default:
		return nil, fmt.Errorf("%s IMU: WHO_AM_I=0x%02X: %w", name, id, ErrUnknownChip)
	}

	d := &MPU9250{name: name, regs: regs, opts: opts, id: id}
	writes := []struct {
		reg, value int
		what       string
	}{
		{regPwrMgmt1, 0x01, "wake, auto clock"},
		{regPwrMgmt2, 0x00, "enable all axes"},
		{regConfig, int(opts.DLPF), "DLPF"},
		{regSmplrtDiv, int(opts.SampleRateDiv), "sample rate divider"},
		{regGyroConfig, int(opts.GyroRange) << 3, "gyro range"},
		{regAccelConfig, int(opts.AccelRange) << 3, "accel range"},
		{regAccelConfig2, int(opts.DLPF), "accel DLPF"},
	}
	for _, w := range writes {
		if err := regs.WriteRegister(w.reg, w.value); err != nil {
			return nil, fmt.Errorf("%s IMU: set %s: %w", name, w.what, err)
		}
	}
	return d, nil
}

// Name is the label used in logs and payloads.
func (d *MPU9250) Name() string { return d.name }

// ID is the WHO_AM_I value read at init.
func (d *MPU9250) ID() int { return d.id }

// Registers exposes the raw register file, for the debug tool.
func (d *MPU9250) Registers() bus.Registers { return d.regs }

// Close releases the bus if it can be released.
func (d *MPU9250) Close() error {
	if c, ok := d.regs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Raw1g is the datasheet count for 1g at the configured range.
func (d *MPU9250) Raw1g() int { return raw1gAt2g >> d.opts.AccelRange }

// AccelThresholds returns the six-pose classification constants.
func (d *MPU9250) AccelThresholds() calibration.Thresholds {
	raw0g := d.opts.Raw0gThreshold
	if raw0g <= 0 {
		raw0g = d.Raw1g() / 5
	}
	return calibration.Thresholds{Raw0g: raw0g, Raw1g: d.Raw1g()}
}

// GyroScale is the datasheet conversion in rad/s per count at the
// configured range, identical on all axes.
func (d *MPU9250) GyroScale() calibration.Vector {
	fs := float64(int(gyroFSAt0) << d.opts.GyroRange)
	s := fs / 32768 * math.Pi / 180
	return calibration.Vector{X: s, Y: s, Z: s}
}

// Accel returns the accelerometer as a raw source.
func (d *MPU9250) Accel() imu.RawSource { return accelSource{d} }

// Gyro returns the gyroscope as a raw source.
func (d *MPU9250) Gyro() imu.RawSource { return gyroSource{d} }

// Temperature reads the die temperature in °C.
func (d *MPU9250) Temperature() (float64, error) {
	var b [2]byte
	if err := bus.ReadBlock(d.regs, regTempOutH, b[:]); err != nil {
		return 0, fmt.Errorf("%s IMU temperature: %w", d.name, err)
	}
	return float64(int16At(b[:], 0))/tempSensitivity + tempOffset, nil
}

// WriteRegister writes one chip register. The full-scale registers are
// refused: Raw1g, the thresholds and GyroScale are fixed by the ranges
// written at init.
func (d *MPU9250) WriteRegister(reg, value int) error {
	if reg == regGyroConfig || reg == regAccelConfig {
		return fmt.Errorf("%s IMU 0x%02X: %w", d.name, reg, ErrFixedRegister)
	}
	return d.regs.WriteRegister(reg, value)
}

// int16At assembles the big-endian H/L pair at b[i].
func int16At(b []byte, i int) int {
	return int(int16(uint16(b[i])<<8 | uint16(b[i+1])))
}

// readAxes reads the six H/L bytes of one sensor in a single burst.
func (d *MPU9250) readAxes(base int, what string) (int, int, int, error) {
	var b [6]byte
	if err := bus.ReadBlock(d.regs, base, b[:]); err != nil {
		return 0, 0, 0, fmt.Errorf("%s IMU %s: %w", d.name, what, err)
	}
	return int16At(b[:], 0), int16At(b[:], 2), int16At(b[:], 4), nil
}

type accelSource struct{ d *MPU9250 }

func (s accelSource) ReadRawAxes() (int, int, int, error) {
	return s.d.readAxes(regAccelXoutH, "accel")
}
func (s accelSource) ReadTemperature() (float64, error) { return s.d.Temperature() }

type gyroSource struct{ d *MPU9250 }

func (s gyroSource) ReadRawAxes() (int, int, int, error) { return s.d.readAxes(regGyroXoutH, "gyro") }
func (s gyroSource) ReadTemperature() (float64, error)   { return s.d.Temperature() }
