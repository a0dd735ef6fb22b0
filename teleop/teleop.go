// Package teleop drives the rover directly from operator commands. Commands
// only stay live for a dead-man window; if the operator goes quiet, the
// wheels stop on their own.
package teleop

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/utils"
)

const (
	// DefaultDeadManTimeout is how long a movement command stays live without
	// a refresh before the watchdog stops the wheels.
	DefaultDeadManTimeout = 150 * time.Millisecond
	// DefaultInnerWheelRatio is the inner wheel's share of the outer wheel
	// command on compound arcs.
	DefaultInnerWheelRatio = 0.5
)

// ErrManualInactive is returned by Command when manual mode has not been
// enabled.
var ErrManualInactive = errors.New("manual control is not active")

// Config tunes manual control.
type Config struct {
	// DeadManTimeoutMs is how long a movement command stays live without a
	// refresh.
	DeadManTimeoutMs int `json:"dead_man_timeout_ms,omitempty"`
	// InnerWheelRatio is the inner wheel's share of the outer wheel command
	// on compound arcs.
	InnerWheelRatio float64 `json:"inner_wheel_ratio,omitempty"`
}

// Validate ensures the tuning values are usable.
func (cfg *Config) Validate(path string) error {
	if cfg.DeadManTimeoutMs < 0 {
		return errors.Errorf("error validating %q: dead_man_timeout_ms must not be negative", path)
	}
	if cfg.InnerWheelRatio < 0 || cfg.InnerWheelRatio > 1 {
		return errors.Errorf("error validating %q: inner_wheel_ratio must be in [0, 1]", path)
	}
	return nil
}

// Teleop owns manual control. It maps operator direction commands onto wheel
// speeds, keeps the shared manual record current, and cuts motion when
// commands dry up or an obstacle shows up in front of a forward arc.
type Teleop struct {
	drive  *drive.MotorDrive
	shared *state.SharedState
	clk    clock.Clock
	logger golog.Logger

	deadManTimeout  time.Duration
	innerWheelRatio float64

	mu          sync.Mutex
	active      bool
	moving      bool
	direction   state.Direction
	speedPct    int
	lastCommand utils.Millis
}

// New wires manual control to the drive and the shared manual record. A nil
// clock uses the wall clock.
func New(
	d *drive.MotorDrive,
	shared *state.SharedState,
	cfg Config,
	clk clock.Clock,
	logger golog.Logger,
) *Teleop {
	if clk == nil {
		clk = clock.New()
	}
	deadMan := DefaultDeadManTimeout
	if cfg.DeadManTimeoutMs > 0 {
		deadMan = time.Duration(cfg.DeadManTimeoutMs) * time.Millisecond
	}
	ratio := cfg.InnerWheelRatio
	if ratio == 0 {
		ratio = DefaultInnerWheelRatio
	}
	return &Teleop{
		drive:           d,
		shared:          shared,
		clk:             clk,
		logger:          logger,
		deadManTimeout:  deadMan,
		innerWheelRatio: ratio,
	}
}

// SetDeadManTimeout changes the dead-man window mid-run. Zero restores the
// default.
func (t *Teleop) SetDeadManTimeout(ms int) {
	d := DefaultDeadManTimeout
	if ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadManTimeout = d
	t.logger.Infow("dead-man timeout changed", "timeout", d)
}

// Enable turns manual mode on and takes motion away from whoever holds it.
// Enabling twice is a no-op.
func (t *Teleop) Enable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return nil
	}
	if err := t.drive.Preempt(ctx, drive.OwnerTeleop); err != nil {
		return err
	}
	t.active = true
	t.moving = false
	t.direction = state.DirectionStop
	t.speedPct = 0
	t.mirrorLocked()
	t.logger.Info("manual control enabled")
	return nil
}

// Disable stops the wheels and releases motion before turning manual mode
// off.
// Disabling twice is a no-op.
func (t *Teleop) Disable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	err := t.drive.Release(ctx, drive.OwnerTeleop)
	t.active = false
	t.moving = false
	t.direction = state.DirectionStop
	t.speedPct = 0
	t.mirrorLocked()
	t.logger.Info("manual control disabled")
	return err
}

// Active reports whether manual mode is on.
func (t *Teleop) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Command applies one operator request and restarts the dead-man window.
// Stop takes effect immediately; any other direction sets wheel speeds that
// stay live until the next command or the window runs out.
func (t *Teleop) Command(ctx context.Context, dir state.Direction, speedPct int) error {
	if speedPct < 0 || speedPct > 100 {
		return errors.Errorf("speed %d is outside [0, 100]", speedPct)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return ErrManualInactive
	}
	if dir == state.DirectionStop {
		if err := t.drive.Stop(ctx); err != nil {
			return err
		}
		t.moving = false
		t.direction = dir
		t.speedPct = 0
		t.lastCommand = utils.NowMillis(t.clk)
		t.mirrorLocked()
		return nil
	}
	left, right, err := WheelSpeeds(dir, speedPct, t.innerWheelRatio)
	if err != nil {
		return err
	}
	if err := t.drive.SetWheelSpeeds(drive.OwnerTeleop, left, right); err != nil {
		return err
	}
	t.moving = speedPct > 0
	t.direction = dir
	t.speedPct = speedPct
	t.lastCommand = utils.NowMillis(t.clk)
	t.mirrorLocked()
	return nil
}

// CheckDeadMan stops the wheels if the live command has gone unrefreshed past
// the dead-man window. The watchdog loop calls it faster than the window so a
// silent operator never coasts far.
func (t *Teleop) CheckDeadMan(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || !t.moving {
		return nil
	}
	elapsed := utils.ElapsedMillis(t.lastCommand, utils.NowMillis(t.clk))
	if time.Duration(elapsed)*time.Millisecond <= t.deadManTimeout {
		return nil
	}
	t.logger.Warnw("manual command timed out, stopping", "elapsed_ms", elapsed)
	return t.stopLocked(ctx)
}

// CheckObstacle stops a forward-moving manual command when the front
// rangefinder reads inside the stop distance. Readings of zero or less mean
// no data and are ignored.
func (t *Teleop) CheckObstacle(ctx context.Context, distanceCM float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || !t.moving || !t.direction.MovesForward() {
		return nil
	}
	if distanceCM <= 0 || distanceCM >= state.DefaultObstacleStopCM {
		return nil
	}
	t.logger.Warnw("obstacle ahead, stopping", "distance_cm", distanceCM)
	return t.stopLocked(ctx)
}

func (t *Teleop) stopLocked(ctx context.Context) error {
	err := t.drive.Stop(ctx)
	t.moving = false
	t.direction = state.DirectionStop
	t.speedPct = 0
	t.mirrorLocked()
	return err
}

// mirrorLocked copies the manual state into the shared record. A lock timeout
// there is logged rather than surfaced; the authoritative copy lives here.
func (t *Teleop) mirrorLocked() {
	active, moving, dir, speed := t.active, t.moving, t.direction, t.speedPct
	now := t.clk.Now()
	if err := t.shared.UpdateManualCommand(func(mc *state.ManualCommand) {
		mc.Active = active
		mc.Moving = moving
		mc.Direction = dir
		mc.SpeedPct = speed
		mc.LastReceived = now
	}); err != nil {
		t.logger.Warnw("failed to mirror manual command", "error", err)
	}
}

// WheelSpeeds maps a direction and a 0-100 speed onto left and right wheel
// commands. Spins run the sides in opposition at full command; compound arcs
// run the outer wheel at full command and the inner wheel at innerRatio of it.
func WheelSpeeds(dir state.Direction, speedPct int, innerRatio float64) (left, right int, err error) {
	if speedPct < 0 || speedPct > 100 {
		return 0, 0, errors.Errorf("speed %d is outside [0, 100]", speedPct)
	}
	s := utils.ScaleByPct(drive.MaxPWM, float64(speedPct)/100)
	inner := int(math.Round(float64(s) * innerRatio))
	switch dir {
	case state.DirectionStop:
		return 0, 0, nil
	case state.DirectionForward:
		return s, s, nil
	case state.DirectionBackward:
		return -s, -s, nil
	case state.DirectionLeft:
		return -s, s, nil
	case state.DirectionRight:
		return s, -s, nil
	case state.DirectionForwardLeft:
		return inner, s, nil
	case state.DirectionForwardRight:
		return s, inner, nil
	case state.DirectionBackwardLeft:
		return -inner, -s, nil
	case state.DirectionBackwardRight:
		return -s, -inner, nil
	default:
		return 0, 0, errors.Wrapf(state.ErrInvalidDirection, "%d", int(dir))
	}
}
