// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"fmt"
	"math"

	"github.com/relabs-tech/imu_calibration/internal/imu"
)

// Orientation is one of the six gravity-aligned poses used by the
// accelerometer calibration. The declaration order is the classification
// order.
type Orientation int

const (
	ZUp Orientation = iota
	ZDown
	YUp
	YDown
	XUp
	XDown

	orientationCount
)

// Orientations lists the poses in classification order.
var Orientations = [orientationCount]Orientation{ZUp, ZDown, YUp, YDown, XUp, XDown}

func (o Orientation) String() string {
	switch o {
	case ZUp:
		return "+Z"
	case ZDown:
		return "-Z"
	case YUp:
		return "+Y"
	case YDown:
		return "-Y"
	case XUp:
		return "+X"
	case XDown:
		return "-X"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// GravityAxis is the axis expected at ±1g in this pose.
func (o Orientation) GravityAxis() Axis {
	switch o {
	case ZUp, ZDown:
		return AxisZ
	case YUp, YDown:
		return AxisY
	default:
		return AxisX
	}
}

// Up reports whether the gravity axis reads +1g in this pose.
func (o Orientation) Up() bool {
	return o == ZUp || o == YUp || o == XUp
}

// zeroAxes are the two axes expected near 0g in this pose.
func (o Orientation) zeroAxes() (Axis, Axis) {
	switch o.GravityAxis() {
	case AxisZ:
		return AxisX, AxisY
	case AxisY:
		return AxisX, AxisZ
	default:
		return AxisY, AxisZ
	}
}

func upFor(axis Axis) Orientation {
	switch axis {
	case AxisX:
		return XUp
	case AxisY:
		return YUp
	default:
		return ZUp
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// classify returns the first pose whose tests the sample passes. The gravity
// test always runs on the pose's own gravity axis.
func classify(raw Axes, th Thresholds) (Orientation, bool) {
	for _, o := range Orientations {
		p, q := o.zeroAxes()
		if abs(raw.get(p)) >= th.Raw0g || abs(raw.get(q)) >= th.Raw0g {
			continue
		}
		g := raw.get(o.GravityAxis())
		if o.Up() && abs(g-th.Raw1g) < th.Raw0g {
			return o, true
		}
		if !o.Up() && abs(g+th.Raw1g) < th.Raw0g {
			return o, true
		}
	}
	return 0, false
}

// orientationBucket accumulates the samples of one pose. sum and sumSq are
// indexed by Axis; only the two near-zero axes are filled.
type orientationBucket struct {
	count      int
	sum        [3]int64
	sumSq      [3]int64
	gravitySum int64
}

func (b *orientationBucket) full() bool { return b.count >= SampleTarget }

func (b *orientationBucket) add(o Orientation, raw Axes) {
	p, q := o.zeroAxes()
	for _, axis := range [2]Axis{p, q} {
		v := int64(raw.get(axis))
		b.sum[axis] += v
		b.sumSq[axis] += v * v
	}
	b.gravitySum += int64(raw.get(o.GravityAxis()))
	b.count++
}

// Accelerometer turns raw accelerometer samples into m/s² and derives its own
// calibration from six static poses.
type Accelerometer struct {
	src        imu.RawSource
	thresholds Thresholds
	params     AccelParams
	calibrated bool
	strict     bool
	filter     Filter
}

// NewAccelerometer wraps src. The source is not owned; th comes from the
// chip datasheet.
func NewAccelerometer(src imu.RawSource, th Thresholds) *Accelerometer {
	return &Accelerometer{src: src, thresholds: th}
}

// Thresholds returns the classification constants.
func (a *Accelerometer) Thresholds() Thresholds { return a.thresholds }

// SetFilter installs a post-processing stage; nil removes it.
func (a *Accelerometer) SetFilter(f Filter) { a.filter = f }

// RequireCalibration makes ReadPhysical fail with ErrNotCalibrated until
// Calibrate or WriteCalibrationParams has run.
func (a *Accelerometer) RequireCalibration(strict bool) { a.strict = strict }

// Calibrated reports whether the parameters came from a run or a write.
func (a *Accelerometer) Calibrated() bool { return a.calibrated }

// ReadCalibrationParams returns a copy of the current record.
func (a *Accelerometer) ReadCalibrationParams() AccelParams { return a.params }

// WriteCalibrationParams replaces the current record.
func (a *Accelerometer) WriteCalibrationParams(p AccelParams) {
	a.params = p
	a.calibrated = true
}

// SetDrift installs a drift model from a separate temperature experiment.
// It does not count as a calibration.
func (a *Accelerometer) SetDrift(d Drift) { a.params.Drift = d }

// ReadPhysical returns one calibrated reading in m/s².
func (a *Accelerometer) ReadPhysical() (Vector, error) {
	if a.strict && !a.calibrated {
		return Vector{}, ErrNotCalibrated
	}
	v, err := readPhysical(a.src, "accelerometer", a.params.Offset, a.params.Scale, a.params.Drift)
	if err != nil {
		return Vector{}, err
	}
	if a.filter != nil {
		v = a.filter.Filter(v)
	}
	return v, nil
}

// Calibrate samples until each of the six poses has SampleTarget accepted
// samples, then derives offset, scale and variance for every axis. The
// operator must present all six poses during the run, in any order.
//
// Parameters are replaced only on success; the drift model is kept.
func (a *Accelerometer) Calibrate(ctx context.Context, opts ...Option) error {
	o := newRunOptions(opts)

	var buckets [orientationCount]orientationBucket
	done, reads := 0, 0
	for done < int(orientationCount) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("accelerometer calibration aborted after %d reads: %w", reads, err)
		}
		x, y, z, err := a.src.ReadRawAxes()
		if err != nil {
			return &IOError{Op: "read accelerometer axes", Err: err}
		}
		reads++

		raw := Axes{X: x, Y: y, Z: z}
		pose, ok := classify(raw, a.thresholds)
		if !ok {
			continue
		}
		b := &buckets[pose]
		if b.full() {
			continue
		}
		b.add(pose, raw)
		if b.full() {
			done++
		}
		if b.count%o.every == 0 || b.full() {
			o.report(Progress{
				Sensor:      "accel",
				Orientation: pose.String(),
				Accepted:    b.count,
				Target:      SampleTarget,
				Done:        done,
				Reads:       reads,
			})
		}
	}

	params, err := deriveAccelParams(&buckets)
	if err != nil {
		return err
	}
	params.Drift = a.params.Drift
	a.params = params
	a.calibrated = true
	return nil
}

// deriveAccelParams computes the record from six full buckets. For each axis
// the four poses where it sits near 0g give the offset and noise; the pose
// where it points up gives the 1g reading.
func deriveAccelParams(buckets *[orientationCount]orientationBucket) (AccelParams, error) {
	var p AccelParams
	n := float64(4 * SampleTarget)
	for _, axis := range allAxes {
		var sum, sumSq int64
		for _, o := range Orientations {
			if o.GravityAxis() == axis {
				continue
			}
			sum += buckets[o].sum[axis]
			sumSq += buckets[o].sumSq[axis]
		}
		mean := float64(sum) / n
		offset := math.Round(mean)

		// Scale and variance are taken against the committed integer
		// offset, the same value ReadPhysical subtracts.
		g := float64(buckets[upFor(axis)].gravitySum) / SampleTarget
		den := g - offset
		if den == 0 {
			return AccelParams{}, &DegenerateCalibrationError{Axis: axis}
		}
		scale := Physical1G / den

		p.Offset.set(axis, int(offset))
		p.Scale.set(axis, scale)
		p.Variance.set(axis, meanSquareAbout(float64(sumSq)/n, mean, offset)*scale*scale)
	}
	return p, nil
}
