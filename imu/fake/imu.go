// Package fake provides a scripted attitude source for tests and bench runs.
package fake

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tern-robotics/rover/imu"
	"github.com/tern-robotics/rover/state"
)

var _ = imu.AttitudeSource(&AttitudeSource{})

// AttitudeSource replays whatever attitude it was last told.
type AttitudeSource struct {
	mu  sync.Mutex
	clk clock.Clock
	att state.Attitude
}

// NewAttitudeSource starts valid, level, pointed north, fully calibrated.
func NewAttitudeSource(clk clock.Clock) *AttitudeSource {
	if clk == nil {
		clk = clock.New()
	}
	return &AttitudeSource{
		clk: clk,
		att: state.Attitude{
			Calibration: state.Calibration{Sys: 3, Gyro: 3, Accel: 3, Mag: 3},
			Timestamp:   clk.Now(),
			Valid:       true,
		},
	}
}

// SetHeading points the fake at the given compass heading.
func (f *AttitudeSource) SetHeading(deg float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.att.Heading = deg
	f.att.Timestamp = f.clk.Now()
	f.att.Valid = true
}

// SetAttitude replaces the whole sample.
func (f *AttitudeSource) SetAttitude(att state.Attitude) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.att = att
}

// SetCalibration overrides the four calibration scores.
func (f *AttitudeSource) SetCalibration(sys, gyro, accel, mag int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.att.Calibration = state.Calibration{Sys: sys, Gyro: gyro, Accel: accel, Mag: mag}
}

// MarkInvalid simulates the sensor dropping out.
func (f *AttitudeSource) MarkInvalid() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.att.Valid = false
}

// Attitude returns the current sample.
func (f *AttitudeSource) Attitude(ctx context.Context) (state.Attitude, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.att, nil
}

// Close is a no-op.
func (f *AttitudeSource) Close() error {
	return nil
}
