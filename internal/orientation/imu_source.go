// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"

	"github.com/relabs-tech/imu_calibration/internal/calibration"
)

// PhysicalReader is satisfied by a calibrated accelerometer.
type PhysicalReader interface {
	ReadPhysical() (calibration.Vector, error)
}

type accelSource struct {
	accel PhysicalReader
}

// NewAccelSource returns a Source that derives roll and pitch from the
// calibrated accelerometer reading.
func NewAccelSource(accel PhysicalReader) Source {
	return &accelSource{accel: accel}
}

func (s *accelSource) Next() (Pose, error) {
	v, err := s.accel.ReadPhysical()
	if err != nil {
		return Pose{}, fmt.Errorf("orientation: %w", err)
	}
	return ComputePoseFromAccel(v.X, v.Y, v.Z), nil
}
