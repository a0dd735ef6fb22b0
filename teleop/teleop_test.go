package teleop

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tern-robotics/rover/drive"
	fakeencoder "github.com/tern-robotics/rover/encoder/fake"
	fakemotor "github.com/tern-robotics/rover/motor/fake"
	"github.com/tern-robotics/rover/state"
)

type testTeleop struct {
	teleop     *Teleop
	drive      *drive.MotorDrive
	shared     *state.SharedState
	clk        *clock.Mock
	leftMotor  *fakemotor.Motor
	rightMotor *fakemotor.Motor
}

func newTestTeleop(t *testing.T, cfg Config) *testTeleop {
	t.Helper()
	tt := &testTeleop{
		clk:        clock.NewMock(),
		leftMotor:  &fakemotor.Motor{},
		rightMotor: &fakemotor.Motor{},
	}
	tt.drive = drive.New(
		tt.leftMotor, tt.rightMotor,
		&fakeencoder.Encoder{}, &fakeencoder.Encoder{},
		drive.Config{}, tt.clk, golog.NewTestLogger(t),
	)
	tt.shared = state.New(tt.clk, 0)
	tt.teleop = New(tt.drive, tt.shared, cfg, tt.clk, golog.NewTestLogger(t))
	return tt
}

func TestEnableDisable(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})

	err := tt.teleop.Command(ctx, state.DirectionForward, 50)
	test.That(t, errors.Is(err, ErrManualInactive), test.ShouldBeTrue)

	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Active(), test.ShouldBeTrue)
	test.That(t, tt.drive.CurrentOwner(), test.ShouldEqual, drive.OwnerTeleop)

	mc, ok := tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Active, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeFalse)

	// Enabling twice is a no-op.
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)

	test.That(t, tt.teleop.Disable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Active(), test.ShouldBeFalse)
	test.That(t, tt.drive.CurrentOwner(), test.ShouldEqual, drive.OwnerNone)

	mc, ok = tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Active, test.ShouldBeFalse)

	test.That(t, tt.teleop.Disable(ctx), test.ShouldBeNil)
}

func TestEnablePreemptsOtherOwner(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})

	test.That(t, tt.drive.Acquire(drive.OwnerNavigator), test.ShouldBeNil)
	test.That(t, tt.drive.SetWheelSpeeds(drive.OwnerNavigator, 100, 100), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)

	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.CurrentOwner(), test.ShouldEqual, drive.OwnerTeleop)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)
	test.That(t, tt.leftMotor.Stops(), test.ShouldBeGreaterThan, 0)
}

func TestWheelSpeedsMapping(t *testing.T) {
	for _, tc := range []struct {
		dir         state.Direction
		speedPct    int
		left, right int
	}{
		{state.DirectionStop, 100, 0, 0},
		{state.DirectionForward, 100, 255, 255},
		{state.DirectionBackward, 100, -255, -255},
		{state.DirectionLeft, 100, -255, 255},
		{state.DirectionRight, 100, 255, -255},
		{state.DirectionForwardLeft, 100, 128, 255},
		{state.DirectionForwardRight, 100, 255, 128},
		{state.DirectionBackwardLeft, 100, -128, -255},
		{state.DirectionBackwardRight, 100, -255, -128},
		{state.DirectionForward, 50, 127, 127},
		{state.DirectionForward, 0, 0, 0},
	} {
		t.Run(tc.dir.String(), func(t *testing.T) {
			left, right, err := WheelSpeeds(tc.dir, tc.speedPct, 0.5)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, left, test.ShouldEqual, tc.left)
			test.That(t, right, test.ShouldEqual, tc.right)
		})
	}

	_, _, err := WheelSpeeds(state.DirectionForward, 101, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = WheelSpeeds(state.Direction(99), 50, 0.5)
	test.That(t, errors.Is(err, state.ErrInvalidDirection), test.ShouldBeTrue)
}

func TestCommandDrivesWheels(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)

	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 100), test.ShouldBeNil)
	st := tt.drive.Status()
	test.That(t, st.Driving, test.ShouldBeTrue)
	test.That(t, st.LeftTarget, test.ShouldEqual, 255)
	test.That(t, st.RightTarget, test.ShouldEqual, 255)

	mc, ok := tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeTrue)
	test.That(t, mc.Direction, test.ShouldEqual, state.DirectionForward)
	test.That(t, mc.SpeedPct, test.ShouldEqual, 100)

	// Stop skips the dead-man window and halts right away.
	stopsBefore := tt.leftMotor.Stops()
	test.That(t, tt.teleop.Command(ctx, state.DirectionStop, 0), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)
	test.That(t, tt.leftMotor.Stops(), test.ShouldBeGreaterThan, stopsBefore)

	mc, ok = tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeFalse)
	test.That(t, mc.Direction, test.ShouldEqual, state.DirectionStop)
}

func TestCommandValidation(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)

	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 101), test.ShouldNotBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, -1), test.ShouldNotBeNil)
	err := tt.teleop.Command(ctx, state.Direction(99), 50)
	test.That(t, errors.Is(err, state.ErrInvalidDirection), test.ShouldBeTrue)

	// Rejected commands leave the wheels alone.
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)
}

func TestDeadManTimeout(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 100), test.ShouldBeNil)

	// Inside the window nothing happens.
	tt.clk.Add(100 * time.Millisecond)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)

	// A refresh restarts the window.
	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 100), test.ShouldBeNil)
	tt.clk.Add(100 * time.Millisecond)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)

	// Past the window the wheels stop without any further command.
	tt.clk.Add(100 * time.Millisecond)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)

	mc, ok := tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Active, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeFalse)
	test.That(t, mc.Direction, test.ShouldEqual, state.DirectionStop)

	// A fresh command re-arms after a timeout stop.
	test.That(t, tt.teleop.Command(ctx, state.DirectionBackward, 50), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)
}

func TestDeadManCustomTimeout(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{DeadManTimeoutMs: 500})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 100), test.ShouldBeNil)

	tt.clk.Add(400 * time.Millisecond)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)

	tt.clk.Add(200 * time.Millisecond)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)
}

func TestDeadManIdleIsQuiet(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	stopsAfterEnable := tt.leftMotor.Stops()

	tt.clk.Add(time.Hour)
	test.That(t, tt.teleop.CheckDeadMan(ctx), test.ShouldBeNil)
	test.That(t, tt.leftMotor.Stops(), test.ShouldEqual, stopsAfterEnable)
}

func TestObstacleStopsForwardMotion(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionForward, 100), test.ShouldBeNil)

	// Clear readings and missing readings do not stop anything.
	test.That(t, tt.teleop.CheckObstacle(ctx, 10), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)
	test.That(t, tt.teleop.CheckObstacle(ctx, 0), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)

	test.That(t, tt.teleop.CheckObstacle(ctx, 4.9), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)

	mc, ok := tt.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeFalse)
}

func TestObstacleIgnoresBackwardMotion(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionBackward, 100), test.ShouldBeNil)

	test.That(t, tt.teleop.CheckObstacle(ctx, 2), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeTrue)
}

func TestObstacleStopsForwardArcs(t *testing.T) {
	ctx := context.Background()
	tt := newTestTeleop(t, Config{})
	test.That(t, tt.teleop.Enable(ctx), test.ShouldBeNil)
	test.That(t, tt.teleop.Command(ctx, state.DirectionForwardLeft, 100), test.ShouldBeNil)

	test.That(t, tt.teleop.CheckObstacle(ctx, 3), test.ShouldBeNil)
	test.That(t, tt.drive.Status().Driving, test.ShouldBeFalse)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{DeadManTimeoutMs: -1}
	err := cfg.Validate("teleop")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dead_man_timeout_ms")

	cfg = Config{InnerWheelRatio: 1.5}
	err = cfg.Validate("teleop")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "inner_wheel_ratio")

	cfg = Config{DeadManTimeoutMs: 300, InnerWheelRatio: 0.4}
	test.That(t, cfg.Validate("teleop"), test.ShouldBeNil)
}
