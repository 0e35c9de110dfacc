// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// IMU bus
	IMUBus        string // "spi", "i2c" or "sim"
	IMUSPIDevice  string
	IMUSPISpeedHz int64
	IMUI2CBus     string
	IMUI2CAddr    uint16

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// IMU Sample Rate Configuration
	IMUDLPFConfig    byte // Digital Low Pass Filter configuration (0-7)
	IMUSampleRateDiv byte // Sample rate divider (output rate = internal rate / (1 + div))

	// Calibration
	AccelRaw0gThreshold int // 0 = derive from range
	AccelDriftA         float64
	AccelDriftB         float64
	GyroDriftA          float64
	GyroDriftB          float64
	CalibrationTimeout  time.Duration

	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string

	// Topics
	TopicAccel  string
	TopicGyro   string
	TopicPose   string
	TopicParams string

	// Timing
	IMUSampleInterval int // milliseconds

	// Web Server
	WebServerPort     int
	RegisterDebugPort int
}

// Default returns the values used for keys absent from the file.
func Default() *Config {
	return &Config{
		IMUBus:               "spi",
		IMUSPIDevice:         "/dev/spidev0.0",
		IMUSPISpeedHz:        1_000_000,
		IMUI2CAddr:           0x68,
		IMUDLPFConfig:        3,
		IMUSampleRateDiv:     9,
		CalibrationTimeout:   2 * time.Minute,
		MQTTClientIDProducer: "imu-producer",
		MQTTClientIDConsole:  "imu-console",
		TopicAccel:           "imu/accel",
		TopicGyro:            "imu/gyro",
		TopicPose:            "imu/pose",
		TopicParams:          "imu/params",
		IMUSampleInterval:    50,
		WebServerPort:        8080,
		RegisterDebugPort:    8081,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseRange(key, value string, max int) (byte, error) {
	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if val < 0 || val > max {
		return 0, fmt.Errorf("%s must be 0-%d, got %d", key, max, val)
	}
	return byte(val), nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// IMU bus
	case "IMU_BUS":
		switch value {
		case "spi", "i2c", "sim":
			c.IMUBus = value
		default:
			return fmt.Errorf("IMU_BUS must be spi, i2c or sim, got %q", value)
		}
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_SPI_SPEED_HZ":
		hz, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid IMU_SPI_SPEED_HZ %q: %w", value, perr)
		}
		c.IMUSPISpeedHz = hz
	case "IMU_I2C_BUS":
		c.IMUI2CBus = value
	case "IMU_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 7)
		if perr != nil {
			return fmt.Errorf("invalid IMU_I2C_ADDR %q: %w", value, perr)
		}
		c.IMUI2CAddr = uint16(addr)

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value, 3)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value, 3)

	// IMU Sample Rate Configuration
	case "IMU_DLPF_CFG":
		c.IMUDLPFConfig, err = parseRange(key, value, 7)
	case "IMU_SMPLRT_DIV":
		c.IMUSampleRateDiv, err = parseRange(key, value, 255)

	// Calibration
	case "ACCEL_RAW_0G_THRESHOLD":
		c.AccelRaw0gThreshold, err = parseInt(key, value)
		if err == nil && c.AccelRaw0gThreshold < 0 {
			return fmt.Errorf("ACCEL_RAW_0G_THRESHOLD must not be negative, got %d", c.AccelRaw0gThreshold)
		}
	case "ACCEL_DRIFT_A":
		c.AccelDriftA, err = parseFloat(key, value)
	case "ACCEL_DRIFT_B":
		c.AccelDriftB, err = parseFloat(key, value)
	case "GYRO_DRIFT_A":
		c.GyroDriftA, err = parseFloat(key, value)
	case "GYRO_DRIFT_B":
		c.GyroDriftB, err = parseFloat(key, value)
	case "CALIBRATION_TIMEOUT_SEC":
		secs, perr := parseInt(key, value)
		if perr != nil {
			return perr
		}
		c.CalibrationTimeout = time.Duration(secs) * time.Second

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_GYRO":
		c.TopicGyro = value
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_PARAMS":
		c.TopicParams = value

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "REGISTER_DEBUG_PORT":
		c.RegisterDebugPort, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.IMUBus == "spi" && c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required when IMU_BUS=spi")
	}
	if c.IMUSPISpeedHz <= 0 {
		return fmt.Errorf("IMU_SPI_SPEED_HZ must be positive")
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive")
	}
	if c.CalibrationTimeout <= 0 {
		return fmt.Errorf("CALIBRATION_TIMEOUT_SEC must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
