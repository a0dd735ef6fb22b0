// Package motor drives the rover's wheel motors through an H-bridge wired to
// board GPIO pins.
package motor

import (
	"context"
	"fmt"

	goutils "go.viam.com/utils"
)

// A Motor is one wheel motor.
type Motor interface {
	// SetPower applies power in [-1, 1]. The sign picks the direction and
	// zero stops the motor.
	SetPower(ctx context.Context, powerPct float64) error

	// Stop cuts power and lets the wheel coast.
	Stop(ctx context.Context) error

	// IsPowered reports whether the motor is powered and at what fraction.
	IsPowered(ctx context.Context) (bool, float64, error)
}

// PinConfig names the H-bridge pins of one motor. A and B set the direction,
// PWM carries the speed signal.
type PinConfig struct {
	A   string `json:"a"`
	B   string `json:"b"`
	PWM string `json:"pwm"`
}

// Validate ensures all pins are named.
func (cfg *PinConfig) Validate(path string) error {
	if cfg.A == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "a")
	}
	if cfg.B == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "b")
	}
	if cfg.PWM == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pwm")
	}
	return nil
}

// Config describes one wheel motor.
type Config struct {
	Pins PinConfig `json:"pins"`
	// PWMFreqHz is the PWM carrier frequency. Defaults to 5 kHz, which is
	// what the motor driver expects.
	PWMFreqHz uint `json:"pwm_freq_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	return cfg.Pins.Validate(fmt.Sprintf("%s.%s", path, "pins"))
}
