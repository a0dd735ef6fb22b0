package drive

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	fakeencoder "github.com/tern-robotics/rover/encoder/fake"
	fakemotor "github.com/tern-robotics/rover/motor/fake"
)

type testDrive struct {
	drive      *MotorDrive
	clk        *clock.Mock
	leftMotor  *fakemotor.Motor
	rightMotor *fakemotor.Motor
	leftEnc    *fakeencoder.Encoder
	rightEnc   *fakeencoder.Encoder
}

func newTestDrive(t *testing.T, cfg Config) *testDrive {
	t.Helper()
	td := &testDrive{
		clk:        clock.NewMock(),
		leftMotor:  &fakemotor.Motor{},
		rightMotor: &fakemotor.Motor{},
		leftEnc:    &fakeencoder.Encoder{},
		rightEnc:   &fakeencoder.Encoder{},
	}
	td.drive = New(
		td.leftMotor, td.rightMotor,
		td.leftEnc, td.rightEnc,
		cfg, td.clk, golog.NewTestLogger(t),
	)
	return td
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.CurrentOwner(), test.ShouldEqual, OwnerNone)
	test.That(t, d.Acquire(OwnerNone), test.ShouldNotBeNil)

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	// Re-acquiring what you hold is fine.
	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)

	err := d.Acquire(OwnerTeleop)
	test.That(t, errors.Is(err, ErrMotionOwned), test.ShouldBeTrue)

	err = d.SetWheelSpeeds(OwnerTeleop, 100, 100)
	test.That(t, errors.Is(err, ErrNotOwner), test.ShouldBeTrue)

	test.That(t, d.SetWheelSpeeds(OwnerNavigator, 100, 100), test.ShouldBeNil)
	test.That(t, d.Status().Driving, test.ShouldBeTrue)

	// Teleop preempts: ownership moves and motion stops.
	test.That(t, d.Preempt(ctx, OwnerTeleop), test.ShouldBeNil)
	test.That(t, d.CurrentOwner(), test.ShouldEqual, OwnerTeleop)
	test.That(t, d.Status().Driving, test.ShouldBeFalse)
	err = d.SetWheelSpeeds(OwnerNavigator, 100, 100)
	test.That(t, errors.Is(err, ErrNotOwner), test.ShouldBeTrue)

	// Releasing what you do not hold is a no-op.
	test.That(t, d.Release(ctx, OwnerNavigator), test.ShouldBeNil)
	test.That(t, d.CurrentOwner(), test.ShouldEqual, OwnerTeleop)

	test.That(t, d.Release(ctx, OwnerTeleop), test.ShouldBeNil)
	test.That(t, d.CurrentOwner(), test.ShouldEqual, OwnerNone)
	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
}

func TestStoppedLatch(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	// A fresh drive is Stopped: updates touch nothing.
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, td.leftEnc.Deltas(), test.ShouldEqual, 0)
	test.That(t, td.leftMotor.PowerPct(), test.ShouldEqual, 0.0)

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	td.leftEnc.SetDelta(10)
	td.rightEnc.SetDelta(10)
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, 100, 100), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, td.leftEnc.Deltas(), test.ShouldEqual, 1)
	test.That(t, td.leftMotor.PowerPct(), test.ShouldBeGreaterThan, 0.0)

	// Stop latches: wheels cut, further updates are no-ops.
	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	test.That(t, td.leftMotor.PowerPct(), test.ShouldEqual, 0.0)
	test.That(t, td.rightMotor.PowerPct(), test.ShouldEqual, 0.0)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, td.leftEnc.Deltas(), test.ShouldEqual, 1)

	// An all-zero command does not clear the latch.
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, 0, 0), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, td.leftEnc.Deltas(), test.ShouldEqual, 1)

	// A non-zero command does.
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, 50, 0), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, td.leftEnc.Deltas(), test.ShouldEqual, 2)
}

func TestSteadyStateIsFeedforward(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, MaxPWM, MaxPWM), test.ShouldBeNil)

	// A perfect plant: the encoders report exactly the full-scale ticks per
	// interval, so error is zero and the output settles at pure feedforward.
	td.leftEnc.SetDelta(int64(DefaultMaxTicksPerInterval))
	td.rightEnc.SetDelta(int64(DefaultMaxTicksPerInterval))

	for i := 0; i < 5; i++ {
		test.That(t, d.Update(ctx), test.ShouldBeNil)
		td.clk.Add(20 * time.Millisecond)
	}

	wantPower := float64(MaxPWM) * DefaultFeedforwardPct / MaxPWM
	test.That(t, td.leftMotor.PowerPct(), test.ShouldAlmostEqual, wantPower)
	test.That(t, td.rightMotor.PowerPct(), test.ShouldAlmostEqual, wantPower)

	status := d.Status()
	test.That(t, status.LeftOutput, test.ShouldEqual, 153)
	test.That(t, status.LeftStalled, test.ShouldBeFalse)
	test.That(t, status.LeftSpeedMedian, test.ShouldAlmostEqual, DefaultMaxTicksPerInterval)
}

func TestUndershootGrowsOutput(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, MaxPWM, MaxPWM), test.ShouldBeNil)

	// The wheel only reaches half the commanded ticks. With Kp=2, Ki=0.5 and
	// error 20: step one is ff 153 + 40 + 10 = 203, step two integrates to
	// 153 + 40 + 20 = 213.
	td.leftEnc.SetDelta(20)
	td.rightEnc.SetDelta(20)

	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, 203)

	td.clk.Add(20 * time.Millisecond)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, 213)

	td.clk.Add(20 * time.Millisecond)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, 223)
}

func TestDeadZoneFollowsTargetSign(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.Acquire(OwnerTeleop), test.ShouldBeNil)

	// A weak forward command computes an output well under the dead zone;
	// the final output must still be forward, at the minimum magnitude.
	test.That(t, d.SetWheelSpeeds(OwnerTeleop, 10, 10), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, DefaultMinPWM)
	test.That(t, td.leftMotor.PowerPct(), test.ShouldAlmostEqual, float64(DefaultMinPWM)/MaxPWM)

	// Same backwards.
	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	test.That(t, d.SetWheelSpeeds(OwnerTeleop, -10, -10), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, -DefaultMinPWM)
	test.That(t, td.leftMotor.PowerPct(), test.ShouldAlmostEqual, -float64(DefaultMinPWM)/MaxPWM)
}

func TestStallDetection(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, MaxPWM, MaxPWM), test.ShouldBeNil)

	// Wheels commanded hard but encoders report nothing.
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftStalled, test.ShouldBeFalse)

	td.clk.Add(300 * time.Millisecond)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftStalled, test.ShouldBeFalse)

	td.clk.Add(300 * time.Millisecond)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	status := d.Status()
	test.That(t, status.LeftStalled, test.ShouldBeTrue)
	test.That(t, status.RightStalled, test.ShouldBeTrue)

	// The moment the wheel moves again the warning clears.
	td.leftEnc.SetDelta(40)
	td.rightEnc.SetDelta(40)
	td.clk.Add(20 * time.Millisecond)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	status = d.Status()
	test.That(t, status.LeftStalled, test.ShouldBeFalse)
	test.That(t, status.RightStalled, test.ShouldBeFalse)
}

func TestStopClearsControllerState(t *testing.T) {
	ctx := context.Background()
	td := newTestDrive(t, Config{})
	d := td.drive

	test.That(t, d.Acquire(OwnerNavigator), test.ShouldBeNil)
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, MaxPWM, MaxPWM), test.ShouldBeNil)
	td.leftEnc.SetDelta(20)
	td.rightEnc.SetDelta(20)
	for i := 0; i < 3; i++ {
		test.That(t, d.Update(ctx), test.ShouldBeNil)
		td.clk.Add(20 * time.Millisecond)
	}

	test.That(t, d.Stop(ctx), test.ShouldBeNil)
	test.That(t, td.leftMotor.Stops(), test.ShouldBeGreaterThanOrEqualTo, 1)

	// After the latch clears, the integral starts from scratch: the first
	// step matches a fresh controller, not the accumulated one.
	test.That(t, d.SetWheelSpeeds(OwnerNavigator, MaxPWM, MaxPWM), test.ShouldBeNil)
	test.That(t, d.Update(ctx), test.ShouldBeNil)
	test.That(t, d.Status().LeftOutput, test.ShouldEqual, 203)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	test.That(t, cfg.Validate("drive"), test.ShouldBeNil)

	cfg = Config{FeedforwardPct: 1.5}
	test.That(t, cfg.Validate("drive"), test.ShouldNotBeNil)

	cfg = Config{MinPWM: 300}
	test.That(t, cfg.Validate("drive"), test.ShouldNotBeNil)

	cfg = Config{MaxTicksPerInterval: -1}
	test.That(t, cfg.Validate("drive"), test.ShouldNotBeNil)
}
