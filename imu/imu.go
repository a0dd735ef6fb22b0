// Package imu supplies attitude readings to the rest of the rover. The
// hardware driver lives behind AttitudeSource; the rover only needs a heading
// it can trust and the calibration scores to judge that trust by.
package imu

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/utils"
)

// An AttitudeSource produces the most recent attitude. Implementations keep
// reading in the background; Attitude never blocks on the sensor.
type AttitudeSource interface {
	Attitude(ctx context.Context) (state.Attitude, error)
	Close() error
}

// Config adjusts raw attitude readings for this particular install.
type Config struct {
	// HeadingOffsetDeg corrects for magnetic declination and for how the
	// sensor is mounted relative to the chassis nose. Calibration data, not
	// navigation logic.
	HeadingOffsetDeg float64 `json:"heading_offset_deg,omitempty"`
}

// Validate rejects offsets that cannot have come from a sane config file.
func (cfg *Config) Validate(path string) error {
	if math.IsNaN(cfg.HeadingOffsetDeg) || math.IsInf(cfg.HeadingOffsetDeg, 0) {
		return errors.Errorf(`error validating %q: "heading_offset_deg" must be a finite angle`, path)
	}
	return nil
}

// WithHeadingOffset wraps src so every heading comes out shifted by offsetDeg
// and wrapped back to [0, 360). A zero offset returns src unchanged.
func WithHeadingOffset(src AttitudeSource, offsetDeg float64) AttitudeSource {
	if offsetDeg == 0 {
		return src
	}
	return &offsetSource{src: src, offsetDeg: offsetDeg}
}

type offsetSource struct {
	src       AttitudeSource
	offsetDeg float64
}

func (o *offsetSource) Attitude(ctx context.Context) (state.Attitude, error) {
	att, err := o.src.Attitude(ctx)
	if err != nil {
		return att, err
	}
	att.Heading = utils.ModAngDeg(att.Heading + o.offsetDeg)
	return att, nil
}

func (o *offsetSource) Close() error {
	return o.src.Close()
}
