// Package rover assembles a whole machine from a config: board, motors,
// encoders, drive, navigator, teleop, command server, and the sensor and
// control loops that tie them together.
package rover

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/tern-robotics/rover/board"
	"github.com/tern-robotics/rover/calibration"
	"github.com/tern-robotics/rover/config"
	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/encoder"
	"github.com/tern-robotics/rover/gps"
	"github.com/tern-robotics/rover/imu"
	"github.com/tern-robotics/rover/motor"
	"github.com/tern-robotics/rover/navigation"
	"github.com/tern-robotics/rover/rangefinder"
	"github.com/tern-robotics/rover/server"
	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/teleop"
)

// Loop rates, following the original task schedule: the wheel PID runs
// fastest, steering and sensors at a tenth of a second, GPS at the receiver's
// own 1 Hz.
const (
	driveInterval    = 20 * time.Millisecond
	encoderInterval  = 50 * time.Millisecond
	deadManInterval  = 50 * time.Millisecond
	navInterval      = 100 * time.Millisecond
	sensorInterval   = 100 * time.Millisecond
	gpsInterval      = time.Second
	watchdogInterval = 5 * time.Second

	gpsFixWarnAfter = 30 * time.Second
)

// calibrationNamespace is where the attitude sensor's calibration snapshot
// lands in the data dir.
const calibrationNamespace = "imu"

// Rover is one assembled machine. Everything hangs off the shared records;
// the loops started by Start keep them current and the server exposes them.
type Rover struct {
	cfg    *config.Config
	logger golog.Logger
	clk    clock.Clock

	board        board.Board
	leftEncoder  encoder.Encoder
	rightEncoder encoder.Encoder
	shared       *state.SharedState
	drive        *drive.MotorDrive
	nav          *navigation.Navigator
	tele         *teleop.Teleop
	server       *server.Server

	gps    gps.PositionSource
	imu    imu.AttitudeSource
	ranger rangefinder.RangeSource
	calib  *calibration.Store

	// loop-local bookkeeping, touched only by the loop that owns it
	lastFix     time.Time
	lastFixWarn time.Time
	calibSaved  bool

	startedAt time.Time
	tasks     []*taskPulse

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New builds the rover's parts from the config but starts nothing. Sensors
// without a model are left unfitted and their loops never start.
func New(ctx context.Context, cfg *config.Config, clk clock.Clock, logger golog.Logger) (*Rover, error) {
	if clk == nil {
		clk = clock.New()
	}

	brd, err := buildBoard(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var closers []func() error
	success := false
	defer func() {
		if !success {
			for i := len(closers) - 1; i >= 0; i-- {
				goutils.UncheckedErrorFunc(closers[i])
			}
		}
	}()
	closers = append(closers, brd.Close)

	leftMotor, err := motor.NewWheel(ctx, brd, cfg.Hardware.LeftMotor, logger.Named("motor.left"))
	if err != nil {
		return nil, err
	}
	rightMotor, err := motor.NewWheel(ctx, brd, cfg.Hardware.RightMotor, logger.Named("motor.right"))
	if err != nil {
		return nil, err
	}
	leftEncoder, err := encoder.NewQuadrature(ctx, brd, cfg.Hardware.LeftEncoder, clk, logger.Named("encoder.left"))
	if err != nil {
		return nil, err
	}
	closers = append(closers, leftEncoder.Close)
	rightEncoder, err := encoder.NewQuadrature(ctx, brd, cfg.Hardware.RightEncoder, clk, logger.Named("encoder.right"))
	if err != nil {
		return nil, err
	}
	closers = append(closers, rightEncoder.Close)

	shared := state.New(clk, 0)
	motorDrive := drive.New(leftMotor, rightMotor, leftEncoder, rightEncoder, cfg.Drive, clk, logger.Named("drive"))
	nav := navigation.New(motorDrive, shared, cfg.Navigation, clk, logger.Named("navigation"))
	tele := teleop.New(motorDrive, shared, cfg.Teleop, clk, logger.Named("teleop"))
	srv := server.New(cfg.Server, shared, nav, tele, clk, logger.Named("server"))

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	r := &Rover{
		cfg:          cfg,
		logger:       logger,
		clk:          clk,
		board:        brd,
		leftEncoder:  leftEncoder,
		rightEncoder: rightEncoder,
		shared:       shared,
		drive:        motorDrive,
		nav:          nav,
		tele:         tele,
		server:       srv,
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
	}

	if r.gps, err = buildGPS(ctx, cfg.GPS, clk, logger.Named("gps")); err != nil {
		return nil, err
	}
	if r.gps != nil {
		closers = append(closers, r.gps.Close)
	}
	if r.imu, err = buildIMU(cfg.IMU, clk, logger.Named("imu")); err != nil {
		return nil, err
	}
	if r.imu != nil {
		closers = append(closers, r.imu.Close)
	}
	if r.ranger, err = buildRangefinder(cfg.Rangefinder); err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		if r.calib, err = calibration.NewStore(cfg.DataDir, logger.Named("calibration")); err != nil {
			return nil, err
		}
		r.restoreCalibration()
	}

	success = true
	return r, nil
}

// Shared exposes the shared records, mostly for tests and tooling.
func (r *Rover) Shared() *state.SharedState {
	return r.shared
}

// Start brings up the command server and every loop. The context bounds
// startup only; Close tears the rover down.
func (r *Rover) Start(ctx context.Context) error {
	if err := r.server.Start(ctx); err != nil {
		return err
	}
	r.startedAt = r.clk.Now()
	r.lastFix = r.startedAt

	r.startTask("drive", driveInterval, r.drive.Update)
	r.startTask("encoders", encoderInterval, r.readEncoders)
	r.startTask("deadman", deadManInterval, r.tele.CheckDeadMan)
	r.startTask("navigation", navInterval, r.nav.Update)
	if r.gps != nil {
		r.startTask("gps", gpsInterval, r.ingestFix)
	}
	if r.imu != nil {
		r.startTask("imu", sensorInterval, r.ingestAttitude)
	}
	if r.ranger != nil {
		r.startTask("rangefinder", sensorInterval, r.checkRange)
	}
	// The watchdog goes last so the pulse list is complete before it looks.
	r.startTask("watchdog", watchdogInterval, r.watchdogTick)

	r.logger.Infow("rover started",
		"bind_address", r.server.Addr(),
		"board", r.cfg.Hardware.BoardModel(),
		"gps", r.cfg.GPS.Model,
		"imu", r.cfg.IMU.Model,
		"rangefinder", r.cfg.Rangefinder.Model,
	)
	return nil
}

// Reconfigure absorbs a fresh config. Tunables are applied live; anything
// else is logged as needing a restart and the running value stays.
func (r *Rover) Reconfigure(cfg *config.Config) {
	diff := config.DiffConfigs(r.cfg, cfg)
	if diff.Empty() {
		return
	}
	if diff.WheelPID {
		r.drive.Retune(cfg.Drive.PID)
		r.cfg.Drive.PID = cfg.Drive.PID
	}
	if diff.Steering {
		if cfg.Navigation.HeadingPID != r.cfg.Navigation.HeadingPID ||
			cfg.Navigation.XTEGainDegPerM != r.cfg.Navigation.XTEGainDegPerM {
			r.nav.SetTuning(cfg.Navigation.HeadingPID, cfg.Navigation.XTEGainDegPerM)
		}
		// Only a changed file value moves the cruise speed, so an operator's
		// set_speed override survives unrelated reloads.
		if cfg.Navigation.BaseSpeedPWM != r.cfg.Navigation.BaseSpeedPWM {
			pwm := cfg.Navigation.BaseSpeedPWM
			if pwm == 0 {
				pwm = navigation.DefaultBaseSpeed
			}
			if err := r.nav.SetBaseSpeed(pwm); err != nil {
				r.logger.Warnw("cannot apply base speed", "error", err)
			}
		}
		r.cfg.Navigation.HeadingPID = cfg.Navigation.HeadingPID
		r.cfg.Navigation.XTEGainDegPerM = cfg.Navigation.XTEGainDegPerM
		r.cfg.Navigation.BaseSpeedPWM = cfg.Navigation.BaseSpeedPWM
	}
	if diff.DeadMan {
		r.tele.SetDeadManTimeout(cfg.Teleop.DeadManTimeoutMs)
		r.cfg.Teleop.DeadManTimeoutMs = cfg.Teleop.DeadManTimeoutMs
	}
	if len(diff.RestartRequired) != 0 {
		r.logger.Warnw("config changes need a restart", "sections", diff.RestartRequired)
	}
}

// startTask runs tick on its own ticker until the rover closes. The ticker is
// created here, not in the goroutine, so a mock clock advanced right after
// Start still lands ticks.
func (r *Rover) startTask(name string, interval time.Duration, tick func(ctx context.Context) error) {
	pulse := &taskPulse{name: name, interval: interval}
	pulse.lastTick.Store(r.clk.Now().UnixNano())
	r.tasks = append(r.tasks, pulse)

	ticker := r.clk.Ticker(interval)
	r.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.cancelCtx.Done():
				return
			case <-ticker.C:
			}
			if err := tick(r.cancelCtx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Errorw("task error", "task", name, "error", err)
			}
			pulse.lastTick.Store(r.clk.Now().UnixNano())
		}
	}, r.activeBackgroundWorkers.Done)
}

// taskPulse tracks when a loop last completed a tick so the watchdog can tell
// a stalled loop from a healthy one.
type taskPulse struct {
	name     string
	interval time.Duration
	lastTick atomic.Int64
}

// deadline is how long a loop may go without ticking before the watchdog
// reports it. Slack over the nominal interval absorbs scheduling noise.
func (p *taskPulse) deadline() time.Duration {
	d := 3 * p.interval
	if d < watchdogInterval {
		d = watchdogInterval
	}
	return d
}

func (r *Rover) restoreCalibration() {
	blob, ok, err := r.calib.Load(calibrationNamespace)
	if err != nil {
		r.logger.Warnw("cannot load imu calibration", "error", err)
		return
	}
	if !ok {
		r.logger.Infow("no stored imu calibration yet")
		return
	}
	var cal state.Calibration
	if err := json.Unmarshal(blob, &cal); err != nil {
		r.logger.Warnw("stored imu calibration unreadable, ignoring", "error", err)
		return
	}
	r.logger.Infow("imu calibration restored",
		"sys", cal.Sys, "gyro", cal.Gyro, "accel", cal.Accel, "mag", cal.Mag)
}

// Close stops the loops, the server, the sensors, and the board, in that
// order, and reports every failure at once.
func (r *Rover) Close() error {
	r.cancelFunc()
	r.activeBackgroundWorkers.Wait()

	err := r.server.Close()
	err = multierr.Combine(err, r.drive.Stop(context.Background()))
	if r.gps != nil {
		err = multierr.Combine(err, r.gps.Close())
	}
	if r.imu != nil {
		err = multierr.Combine(err, r.imu.Close())
	}
	if r.ranger != nil {
		err = multierr.Combine(err, r.ranger.Close())
	}
	err = multierr.Combine(err, r.leftEncoder.Close(), r.rightEncoder.Close())
	return multierr.Combine(err, r.board.Close())
}
