// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"github.com/relabs-tech/imu_calibration/internal/bus"
	"github.com/relabs-tech/imu_calibration/internal/config"
)

// OptsFromConfig maps the IMU_* keys onto driver options.
func OptsFromConfig(cfg *config.Config) Opts {
	return Opts{
		AccelRange:     cfg.IMUAccelRange,
		GyroRange:      cfg.IMUGyroRange,
		DLPF:           cfg.IMUDLPFConfig,
		SampleRateDiv:  cfg.IMUSampleRateDiv,
		Raw0gThreshold: cfg.AccelRaw0gThreshold,
	}
}

// Open connects to the IMU on the bus named by IMU_BUS and initialises it.
func Open(cfg *config.Config) (*MPU9250, error) {
	var regs bus.Registers
	switch cfg.IMUBus {
	case "spi":
		log.Printf("sensors: opening MPU9250 on SPI %s @ %d Hz", cfg.IMUSPIDevice, cfg.IMUSPISpeedHz)
		r, err := bus.OpenSPI(cfg.IMUSPIDevice, cfg.IMUSPISpeedHz)
		if err != nil {
			return nil, err
		}
		regs = r
	case "i2c":
		log.Printf("sensors: opening MPU9250 on I2C bus %q addr 0x%02X", cfg.IMUI2CBus, cfg.IMUI2CAddr)
		r, err := bus.OpenI2C(cfg.IMUI2CBus, cfg.IMUI2CAddr)
		if err != nil {
			return nil, err
		}
		regs = r
	case "sim":
		log.Printf("sensors: using simulated MPU9250")
		regs = NewSimulator(DefaultSimOpts)
	default:
		return nil, fmt.Errorf("sensors: unknown IMU bus %q", cfg.IMUBus)
	}

	opts := OptsFromConfig(cfg)
	imu, err := NewMPU9250(cfg.IMUBus, regs, opts)
	if err != nil {
		if c, ok := regs.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	log.Printf("sensors: MPU9250 ready (WHO_AM_I=0x%02X accel range=%d gyro range=%d DLPF=%d div=%d)",
		imu.ID(), opts.AccelRange, opts.GyroRange, opts.DLPF, opts.SampleRateDiv)
	return imu, nil
}
