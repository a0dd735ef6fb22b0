package motor

import (
	"context"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tern-robotics/rover/board"
	"github.com/tern-robotics/rover/utils"
)

var _ = Motor(&Wheel{})

// DefaultPWMFreqHz is the carrier frequency applied when the config leaves it
// unset.
const DefaultPWMFreqHz = 5000

// Wheel is a brushed motor behind an H-bridge: two direction pins and one PWM
// pin.
type Wheel struct {
	a      board.GPIOPin
	b      board.GPIOPin
	pwm    board.GPIOPin
	logger golog.Logger

	mu       sync.Mutex
	powerPct float64
}

// NewWheel looks up the motor's pins on the board and applies the PWM carrier
// frequency.
func NewWheel(ctx context.Context, brd board.Board, cfg Config, logger golog.Logger) (*Wheel, error) {
	a, err := brd.GPIOPinByName(cfg.Pins.A)
	if err != nil {
		return nil, err
	}
	b, err := brd.GPIOPinByName(cfg.Pins.B)
	if err != nil {
		return nil, err
	}
	pwm, err := brd.GPIOPinByName(cfg.Pins.PWM)
	if err != nil {
		return nil, err
	}

	freq := cfg.PWMFreqHz
	if freq == 0 {
		freq = DefaultPWMFreqHz
	}
	if err := pwm.SetPWMFreq(ctx, freq); err != nil {
		return nil, errors.Wrap(err, "setting PWM carrier frequency")
	}

	return &Wheel{a: a, b: b, pwm: pwm, logger: logger}, nil
}

// SetPower applies power in [-1, 1]. Positive drives forward (A high, B low),
// negative reverses the bridge, zero stops.
func (m *Wheel) SetPower(ctx context.Context, powerPct float64) error {
	powerPct = utils.ClampF64(powerPct, -1, 1)
	if math.Abs(powerPct) < 1e-3 {
		return m.Stop(ctx)
	}

	forward := powerPct > 0
	if err := multierr.Combine(
		m.a.Set(ctx, forward),
		m.b.Set(ctx, !forward),
	); err != nil {
		return err
	}

	m.mu.Lock()
	m.powerPct = powerPct
	m.mu.Unlock()
	return m.pwm.SetPWM(ctx, math.Abs(powerPct))
}

// Stop grounds both direction pins and zeroes the duty cycle, letting the
// wheel coast.
func (m *Wheel) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.powerPct = 0
	m.mu.Unlock()
	return multierr.Combine(
		m.a.Set(ctx, false),
		m.b.Set(ctx, false),
		m.pwm.SetPWM(ctx, 0),
	)
}

// IsPowered reports whether the motor is powered and at what fraction.
func (m *Wheel) IsPowered(ctx context.Context) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerPct != 0, m.powerPct, nil
}
