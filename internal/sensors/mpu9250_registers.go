// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// MPU9250 register addresses used by the driver.
const (
	regSmplrtDiv    = 0x19
	regConfig       = 0x1A
	regGyroConfig   = 0x1B
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regAccelXoutH   = 0x3B
	regTempOutH     = 0x41
	regGyroXoutH    = 0x43
	regPwrMgmt1     = 0x6B
	regPwrMgmt2     = 0x6C
	regWhoAmI       = 0x75
)

// BitField describes one field inside a register.
type BitField struct {
	Bits        string `json:"bits"` // e.g. "4:3"
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is register metadata for the register debug tool.
type RegisterInfo struct {
	Address     int        `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Default     int        `json:"default"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// RegisterMap returns metadata for the MPU9250 registers this project touches.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		// Configuration
		{Address: regSmplrtDiv, Name: "SMPLRT_DIV", Description: "Sample Rate Divider", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SMPLRT_DIV", Description: "Sample Rate = Internal_Sample_Rate / (1 + SMPLRT_DIV)", Values: "0-255"},
			}},
		{Address: regConfig, Name: "CONFIG", Description: "Configuration (DLPF)", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "FIFO_MODE", Description: "FIFO mode", Values: "0=Overwrite, 1=Block new data"},
				{Bits: "2:0", Name: "DLPF_CFG", Description: "Digital Low Pass Filter", Values: "0=250Hz, 1=184Hz, 2=92Hz, 3=41Hz, 4=20Hz, 5=10Hz, 6=5Hz, 7=3600Hz"},
			}},
		{Address: regGyroConfig, Name: "GYRO_CONFIG", Description: "Gyroscope Configuration (range set by IMU_GYRO_RANGE)", Access: "R",
			BitFields: []BitField{
				{Bits: "4:3", Name: "GYRO_FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
				{Bits: "1:0", Name: "Fchoice_b", Description: "Gyro DLPF bypass", Values: "0=DLPF enabled"},
			}},
		{Address: regAccelConfig, Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration (range set by IMU_ACCEL_RANGE)", Access: "R",
			BitFields: []BitField{
				{Bits: "4:3", Name: "ACCEL_FS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
			}},
		{Address: regAccelConfig2, Name: "ACCEL_CONFIG2", Description: "Accelerometer Configuration 2", Access: "RW",
			BitFields: []BitField{
				{Bits: "3", Name: "accel_fchoice_b", Description: "Accel DLPF bypass", Values: "0=DLPF enabled, 1=Bypass"},
				{Bits: "2:0", Name: "A_DLPFCFG", Description: "Accel DLPF Config", Values: "0=460Hz, 1=184Hz, 2=92Hz, 3=41Hz, 4=20Hz, 5=10Hz, 6=5Hz, 7=460Hz"},
			}},

		// Sensor data (read-only)
		{Address: regAccelXoutH, Name: "ACCEL_XOUT_H", Description: "Accelerometer X-Axis High Byte", Access: "R"},
		{Address: regAccelXoutH + 1, Name: "ACCEL_XOUT_L", Description: "Accelerometer X-Axis Low Byte", Access: "R"},
		{Address: regAccelXoutH + 2, Name: "ACCEL_YOUT_H", Description: "Accelerometer Y-Axis High Byte", Access: "R"},
		{Address: regAccelXoutH + 3, Name: "ACCEL_YOUT_L", Description: "Accelerometer Y-Axis Low Byte", Access: "R"},
		{Address: regAccelXoutH + 4, Name: "ACCEL_ZOUT_H", Description: "Accelerometer Z-Axis High Byte", Access: "R"},
		{Address: regAccelXoutH + 5, Name: "ACCEL_ZOUT_L", Description: "Accelerometer Z-Axis Low Byte", Access: "R"},
		{Address: regTempOutH, Name: "TEMP_OUT_H", Description: "Temperature High Byte", Access: "R"},
		{Address: regTempOutH + 1, Name: "TEMP_OUT_L", Description: "Temperature Low Byte", Access: "R"},
		{Address: regGyroXoutH, Name: "GYRO_XOUT_H", Description: "Gyroscope X-Axis High Byte", Access: "R"},
		{Address: regGyroXoutH + 1, Name: "GYRO_XOUT_L", Description: "Gyroscope X-Axis Low Byte", Access: "R"},
		{Address: regGyroXoutH + 2, Name: "GYRO_YOUT_H", Description: "Gyroscope Y-Axis High Byte", Access: "R"},
		{Address: regGyroXoutH + 3, Name: "GYRO_YOUT_L", Description: "Gyroscope Y-Axis Low Byte", Access: "R"},
		{Address: regGyroXoutH + 4, Name: "GYRO_ZOUT_H", Description: "Gyroscope Z-Axis High Byte", Access: "R"},
		{Address: regGyroXoutH + 5, Name: "GYRO_ZOUT_L", Description: "Gyroscope Z-Axis Low Byte", Access: "R"},

		// Power and identity
		{Address: regPwrMgmt1, Name: "PWR_MGMT_1", Description: "Power Management 1", Access: "RW", Default: 0x01,
			BitFields: []BitField{
				{Bits: "7", Name: "H_RESET", Description: "Device reset", Values: "1=Reset device"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Disabled, 1=Sleep"},
				{Bits: "3", Name: "TEMP_DIS", Description: "Temperature sensor", Values: "0=Enabled, 1=Disabled"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "0=Internal 20MHz, 1=Auto select best"},
			}},
		{Address: regPwrMgmt2, Name: "PWR_MGMT_2", Description: "Power Management 2", Access: "RW",
			BitFields: []BitField{
				{Bits: "5:3", Name: "DIS_XA/YA/ZA", Description: "Disable accelerometer axes", Values: "0=On, 1=Off"},
				{Bits: "2:0", Name: "DIS_XG/YG/ZG", Description: "Disable gyroscope axes", Values: "0=On, 1=Off"},
			}},
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device ID", Access: "R", Default: 0x71},
	}
}
