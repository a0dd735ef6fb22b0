// Package control implements the discrete controllers shared by the drive and
// navigation loops.
package control

import (
	"math"
	"sync"
)

// PIDConfig holds the tuning for one PID instance. Gains are per control step;
// the loops that own a PID run at a fixed cadence, so no dt scaling is applied.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	// IntegralLimit bounds the accumulated error term (anti-windup). Zero
	// means derive the bound from OutputLimit/Ki.
	IntegralLimit float64 `json:"integral_limit,omitempty"`
	// OutputLimit bounds the controller output symmetrically.
	OutputLimit float64 `json:"output_limit"`
	// DerivativeOnMeasurement computes the derivative term from the change in
	// the measured value instead of the change in error, which avoids a spike
	// when the setpoint jumps.
	DerivativeOnMeasurement bool `json:"derivative_on_measurement,omitempty"`
}

func (cfg PIDConfig) integralBound() float64 {
	if cfg.IntegralLimit > 0 {
		return cfg.IntegralLimit
	}
	if cfg.Ki != 0 {
		return math.Abs(cfg.OutputLimit / cfg.Ki)
	}
	return 0
}

// PID is a discrete step PID controller with a clamped integral term.
type PID struct {
	mu           sync.Mutex
	cfg          PIDConfig
	integral     float64
	lastError    float64
	lastMeasured float64
	primed       bool
}

func NewPID(cfg PIDConfig) *PID {
	return &PID{cfg: cfg}
}

// Next runs one control step. err is the current setpoint error and measured
// the raw measurement it was derived from; both are needed because the
// derivative can be taken on either depending on configuration.
func (p *PID) Next(err, measured float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.integral += err
	if bound := p.cfg.integralBound(); bound > 0 {
		if p.integral > bound {
			p.integral = bound
		} else if p.integral < -bound {
			p.integral = -bound
		}
	}

	var deriv float64
	if p.primed {
		if p.cfg.DerivativeOnMeasurement {
			deriv = -(measured - p.lastMeasured)
		} else {
			deriv = err - p.lastError
		}
	}
	p.lastError = err
	p.lastMeasured = measured
	p.primed = true

	output := p.cfg.Kp*err + p.cfg.Ki*p.integral + p.cfg.Kd*deriv
	if p.cfg.OutputLimit > 0 {
		if output > p.cfg.OutputLimit {
			output = p.cfg.OutputLimit
		} else if output < -p.cfg.OutputLimit {
			output = -p.cfg.OutputLimit
		}
	}
	return output
}

// Reset clears the controller's memory. Call it whenever the loop changes
// regime (new mission leg, explicit stop) so stale correction is not carried
// forward.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.integral = 0
	p.lastError = 0
	p.lastMeasured = 0
	p.primed = false
}

// Retune swaps the gains in place and clears the accumulated state, so a
// live tuning change does not inherit an integral wound up under the old
// gains.
func (p *PID) Retune(cfg PIDConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.integral = 0
	p.lastError = 0
	p.lastMeasured = 0
	p.primed = false
}

// Integral exposes the accumulated error term for status reporting and tests.
func (p *PID) Integral() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.integral
}
