// Package encoder decodes the rover's quadrature wheel encoders into signed
// tick counts, per-interval deltas, and wheel speeds.
package encoder

import (
	"context"

	goutils "go.viam.com/utils"
)

// An Encoder tracks the rotation of one wheel.
type Encoder interface {
	// Position returns the accumulated tick count since startup or the last
	// Reset.
	Position(ctx context.Context) (int64, error)

	// Delta returns the ticks accumulated since the previous call to Delta
	// and moves the baseline forward. The control loop calls this once per
	// cycle, so a delta is the distance covered in one control interval.
	Delta(ctx context.Context) (int64, error)

	// Speed returns ticks per second measured across the two most recent
	// calls to Delta.
	Speed(ctx context.Context) (float64, error)

	// Reset zeroes the position, the delta baseline, and the speed history.
	Reset(ctx context.Context) error

	Close() error
}

// Config describes how one encoder is wired to the board.
type Config struct {
	// PinA and PinB name the board interrupt lines of the two channels.
	PinA string `json:"pin_a"`
	PinB string `json:"pin_b"`
	// Reversed flips the count direction for mirror-mounted motors.
	Reversed bool `json:"reversed,omitempty"`
}

// Validate ensures the config names both channels.
func (cfg *Config) Validate(path string) error {
	if cfg.PinA == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin_a")
	}
	if cfg.PinB == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin_b")
	}
	return nil
}
