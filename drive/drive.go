// Package drive closes the loop between wheel speed commands and encoder
// feedback. It owns the only path to the wheel motors: higher-level
// controllers acquire motion ownership, set PWM-equivalent wheel targets, and
// a fixed-cadence Update steps one PID per wheel.
package drive

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tern-robotics/rover/control"
	"github.com/tern-robotics/rover/encoder"
	"github.com/tern-robotics/rover/motor"
	"github.com/tern-robotics/rover/utils"
)

// MaxPWM is the full-scale wheel command magnitude.
const MaxPWM = 255

const (
	// DefaultMinPWM is the weakest command that still turns the wheels;
	// outputs inside the band get bumped to it.
	DefaultMinPWM = 40
	// DefaultStallPWM and DefaultStallTimeout bound how hard and how long we
	// drive a wheel that reports no motion before calling it stalled.
	DefaultStallPWM     = 50
	DefaultStallTimeout = 500 * time.Millisecond
	// DefaultMaxTicksPerInterval is the encoder movement one update interval
	// sees at full-scale command.
	DefaultMaxTicksPerInterval = 40.0
	// DefaultFeedforwardPct of the target is applied open-loop, leaving the
	// rest of the range as PID headroom.
	DefaultFeedforwardPct = 0.6

	// A wheel reporting at most this many ticks per interval counts as not
	// moving for stall detection.
	stallMeasuredMax = 1

	// Window of measured per-interval deltas kept for speed statistics.
	speedStatsWindow = 25
)

// An Owner is a controller allowed to command wheel speeds.
type Owner string

// The two motion controllers, plus the unowned sentinel.
const (
	OwnerNone      Owner = ""
	OwnerNavigator Owner = "navigator"
	OwnerTeleop    Owner = "teleop"
)

var (
	// ErrMotionOwned is returned by Acquire while another controller holds
	// motion.
	ErrMotionOwned = errors.New("motion is owned")
	// ErrNotOwner is returned by SetWheelSpeeds when the caller does not
	// hold motion.
	ErrNotOwner = errors.New("caller does not own motion")
)

// DefaultWheelPID is the per-wheel velocity loop tuning applied when the
// config leaves the gains unset.
var DefaultWheelPID = control.PIDConfig{
	Kp:                      2.0,
	Ki:                      0.5,
	Kd:                      0.1,
	OutputLimit:             MaxPWM,
	DerivativeOnMeasurement: true,
}

// Config tunes the wheel velocity loops.
type Config struct {
	// PID applies to both wheels; each wheel gets its own controller state.
	PID control.PIDConfig `json:"pid"`
	// MaxTicksPerInterval is the encoder movement one update interval sees at
	// full-scale command; it converts PWM targets into tick setpoints.
	MaxTicksPerInterval float64 `json:"max_ticks_per_interval,omitempty"`
	// FeedforwardPct of the target is applied open-loop.
	FeedforwardPct float64 `json:"feedforward_pct,omitempty"`
	// MinPWM is the dead-zone magnitude.
	MinPWM int `json:"min_pwm,omitempty"`
	// StallPWM and StallTimeoutMs bound stall detection.
	StallPWM       int `json:"stall_pwm,omitempty"`
	StallTimeoutMs int `json:"stall_timeout_ms,omitempty"`
}

// Validate ensures the tuning values are usable.
func (cfg *Config) Validate(path string) error {
	if cfg.MaxTicksPerInterval < 0 {
		return errors.Errorf("error validating %q: max_ticks_per_interval must not be negative", path)
	}
	if cfg.FeedforwardPct < 0 || cfg.FeedforwardPct > 1 {
		return errors.Errorf("error validating %q: feedforward_pct must be in [0, 1]", path)
	}
	if cfg.MinPWM < 0 || cfg.MinPWM > MaxPWM {
		return errors.Errorf("error validating %q: min_pwm must be in [0, %d]", path, MaxPWM)
	}
	return nil
}

type wheel struct {
	name    string
	motor   motor.Motor
	encoder encoder.Encoder
	pid     *control.PID
	stats   *utils.RollingStats

	target     int
	lastOutput int

	stallTracking bool
	stallSince    utils.Millis
	stalled       bool
}

// MotorDrive runs the two wheel velocity loops and arbitrates who may command
// them.
type MotorDrive struct {
	clk    clock.Clock
	logger golog.Logger

	maxTicksPerInterval float64
	feedforwardPct      float64
	minPWM              int
	stallPWM            int
	stallTimeout        time.Duration

	mu      sync.Mutex
	owner   Owner
	driving bool
	left    *wheel
	right   *wheel
}

// New wires the drive to its motors and encoders. A nil clock falls back to
// the wall clock.
func New(
	leftMotor, rightMotor motor.Motor,
	leftEncoder, rightEncoder encoder.Encoder,
	cfg Config,
	clk clock.Clock,
	logger golog.Logger,
) *MotorDrive {
	if clk == nil {
		clk = clock.New()
	}

	pidCfg := cfg.PID
	if pidCfg.Kp == 0 && pidCfg.Ki == 0 && pidCfg.Kd == 0 {
		pidCfg = DefaultWheelPID
	}
	if pidCfg.OutputLimit == 0 {
		pidCfg.OutputLimit = MaxPWM
	}

	d := &MotorDrive{
		clk:                 clk,
		logger:              logger,
		maxTicksPerInterval: cfg.MaxTicksPerInterval,
		feedforwardPct:      cfg.FeedforwardPct,
		minPWM:              cfg.MinPWM,
		stallPWM:            cfg.StallPWM,
		stallTimeout:        time.Duration(cfg.StallTimeoutMs) * time.Millisecond,
		left: &wheel{
			name:    "left",
			motor:   leftMotor,
			encoder: leftEncoder,
			pid:     control.NewPID(pidCfg),
			stats:   utils.NewRollingStats(speedStatsWindow),
		},
		right: &wheel{
			name:    "right",
			motor:   rightMotor,
			encoder: rightEncoder,
			pid:     control.NewPID(pidCfg),
			stats:   utils.NewRollingStats(speedStatsWindow),
		},
	}
	if d.maxTicksPerInterval == 0 {
		d.maxTicksPerInterval = DefaultMaxTicksPerInterval
	}
	if d.feedforwardPct == 0 {
		d.feedforwardPct = DefaultFeedforwardPct
	}
	if d.minPWM == 0 {
		d.minPWM = DefaultMinPWM
	}
	if d.stallPWM == 0 {
		d.stallPWM = DefaultStallPWM
	}
	if d.stallTimeout == 0 {
		d.stallTimeout = DefaultStallTimeout
	}
	return d
}

// Retune applies new PID gains to both wheels mid-run. Zero gains fall back
// to the defaults the same way New does.
func (d *MotorDrive) Retune(cfg control.PIDConfig) {
	if cfg.Kp == 0 && cfg.Ki == 0 && cfg.Kd == 0 {
		cfg = DefaultWheelPID
	}
	if cfg.OutputLimit == 0 {
		cfg.OutputLimit = MaxPWM
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left.pid.Retune(cfg)
	d.right.pid.Retune(cfg)
	d.logger.Infow("wheel PID retuned", "kp", cfg.Kp, "ki", cfg.Ki, "kd", cfg.Kd)
}

// Acquire grants motion to the owner if motion is free or already theirs.
func (d *MotorDrive) Acquire(owner Owner) error {
	if owner == OwnerNone {
		return errors.New("cannot acquire motion without an owner")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == owner {
		return nil
	}
	if d.owner != OwnerNone {
		return errors.Wrapf(ErrMotionOwned, "by %q", d.owner)
	}
	d.owner = owner
	return nil
}

// Preempt unconditionally hands motion to the owner, stopping whatever the
// previous owner was doing.
func (d *MotorDrive) Preempt(ctx context.Context, owner Owner) error {
	if owner == OwnerNone {
		return errors.New("cannot preempt motion without an owner")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == owner {
		return nil
	}
	if d.owner != OwnerNone {
		d.logger.Infow("motion ownership preempted", "from", d.owner, "to", owner)
	}
	d.owner = owner
	return d.stopLocked(ctx)
}

// Release gives up motion and stops the wheels. Releasing motion one does not
// hold is a no-op.
func (d *MotorDrive) Release(ctx context.Context, owner Owner) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != owner {
		return nil
	}
	d.owner = OwnerNone
	return d.stopLocked(ctx)
}

// CurrentOwner returns which controller holds motion.
func (d *MotorDrive) CurrentOwner() Owner {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner
}

// SetWheelSpeeds sets the PWM-equivalent wheel targets in [-255, 255]. A
// non-zero pair returns the drive from Stopped to Driving. Only the motion
// owner may command speeds.
func (d *MotorDrive) SetWheelSpeeds(owner Owner, left, right int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner == OwnerNone || d.owner != owner {
		return errors.Wrapf(ErrNotOwner, "%q (owner %q)", owner, d.owner)
	}

	d.left.target = utils.ClampInt(left, -MaxPWM, MaxPWM)
	d.right.target = utils.ClampInt(right, -MaxPWM, MaxPWM)
	if d.left.target != 0 || d.right.target != 0 {
		d.driving = true
	}
	return nil
}

// Update runs one PID step per wheel. It must be called at a fixed cadence;
// the loop gains are tuned per step, not per second. In Stopped it does
// nothing, so a stopped rover stays stopped until a new non-zero command.
func (d *MotorDrive) Update(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.driving {
		return nil
	}

	// Sample both encoders back-to-back so the two corrections see the same
	// instant.
	leftDelta, err := d.left.encoder.Delta(ctx)
	if err != nil {
		return err
	}
	rightDelta, err := d.right.encoder.Delta(ctx)
	if err != nil {
		return err
	}

	now := utils.NowMillis(d.clk)
	return multierr.Combine(
		d.stepWheel(ctx, d.left, leftDelta, now),
		d.stepWheel(ctx, d.right, rightDelta, now),
	)
}

func (d *MotorDrive) stepWheel(ctx context.Context, w *wheel, measured int64, now utils.Millis) error {
	w.stats.Add(float64(measured))

	targetTicks := float64(w.target) / MaxPWM * d.maxTicksPerInterval
	pidOut := w.pid.Next(targetTicks-float64(measured), float64(measured))
	ff := float64(w.target) * d.feedforwardPct

	output := utils.ClampInt(int(math.Round(ff+pidOut)), -MaxPWM, MaxPWM)

	// Outputs inside the driver's dead band cannot move the rover. Bump them
	// to the minimum, oriented by the target's sign; an output opposing the
	// target (braking during a reversal) passes through untouched.
	if w.target > 0 && output > 0 && output < d.minPWM {
		output = d.minPWM
	} else if w.target < 0 && output < 0 && output > -d.minPWM {
		output = -d.minPWM
	}

	d.checkStall(w, measured, output, now)

	w.lastOutput = output
	return w.motor.SetPower(ctx, float64(output)/MaxPWM)
}

// checkStall raises a per-wheel warning when we command hard but the encoder
// reports a standstill for longer than the stall timeout. Non-fatal: the
// operator or Navigator decides what to do about it.
func (d *MotorDrive) checkStall(w *wheel, measured int64, output int, now utils.Millis) {
	if utils.AbsInt(output) > d.stallPWM && utils.AbsInt64(measured) <= stallMeasuredMax {
		if !w.stallTracking {
			w.stallTracking = true
			w.stallSince = now
			return
		}
		elapsed := time.Duration(utils.ElapsedMillis(w.stallSince, now)) * time.Millisecond
		if elapsed >= d.stallTimeout && !w.stalled {
			w.stalled = true
			d.logger.Warnw("encoder stall or disconnect",
				"wheel", w.name, "output", output, "measured", measured)
		}
		return
	}
	w.stallTracking = false
	w.stalled = false
}

// Stop immediately zeroes both wheels, clears the controllers, and latches
// Stopped. Anyone may call it; safety paths do not need ownership.
func (d *MotorDrive) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked(ctx)
}

func (d *MotorDrive) stopLocked(ctx context.Context) error {
	d.driving = false
	for _, w := range []*wheel{d.left, d.right} {
		w.target = 0
		w.lastOutput = 0
		w.pid.Reset()
		w.stallTracking = false
		w.stalled = false
	}
	return multierr.Combine(
		d.left.motor.Stop(ctx),
		d.right.motor.Stop(ctx),
	)
}

// Status is a point-in-time snapshot of the drive.
type Status struct {
	Owner        Owner
	Driving      bool
	LeftTarget   int
	RightTarget  int
	LeftOutput   int
	RightOutput  int
	LeftStalled  bool
	RightStalled bool
	// Median measured ticks per interval over the recent window.
	LeftSpeedMedian  float64
	RightSpeedMedian float64
}

// Status reports the drive state for telemetry.
func (d *MotorDrive) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Owner:            d.owner,
		Driving:          d.driving,
		LeftTarget:       d.left.target,
		RightTarget:      d.right.target,
		LeftOutput:       d.left.lastOutput,
		RightOutput:      d.right.lastOutput,
		LeftStalled:      d.left.stalled,
		RightStalled:     d.right.stalled,
		LeftSpeedMedian:  medianOrZero(d.left.stats),
		RightSpeedMedian: medianOrZero(d.right.stats),
	}
}

func medianOrZero(stats *utils.RollingStats) float64 {
	m := stats.Median()
	if math.IsNaN(m) {
		return 0
	}
	return m
}
