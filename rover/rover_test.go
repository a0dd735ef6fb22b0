package rover

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/tern-robotics/rover/calibration"
	"github.com/tern-robotics/rover/config"
	"github.com/tern-robotics/rover/control"
	"github.com/tern-robotics/rover/encoder"
	fakegps "github.com/tern-robotics/rover/gps/fake"
	"github.com/tern-robotics/rover/motor"
	fakerange "github.com/tern-robotics/rover/rangefinder/fake"
	"github.com/tern-robotics/rover/server"
	"github.com/tern-robotics/rover/state"
)

func benchRoverConfig() *config.Config {
	return &config.Config{
		Hardware: config.HardwareConfig{
			Model:        config.BoardModelFake,
			LeftMotor:    motor.Config{Pins: motor.PinConfig{A: "m1a", B: "m1b", PWM: "m1p"}},
			RightMotor:   motor.Config{Pins: motor.PinConfig{A: "m2a", B: "m2b", PWM: "m2p"}},
			LeftEncoder:  encoder.Config{PinA: "e1a", PinB: "e1b"},
			RightEncoder: encoder.Config{PinA: "e2a", PinB: "e2b"},
		},
		Server:      server.Config{BindAddress: "127.0.0.1:0"},
		GPS:         config.SensorConfig{Model: config.SensorModelFake},
		IMU:         config.SensorConfig{Model: config.SensorModelFake},
		Rangefinder: config.SensorConfig{Model: config.SensorModelFake},
	}
}

type testRover struct {
	r      *Rover
	clk    *clock.Mock
	gps    *fakegps.PositionSource
	ranger *fakerange.RangeSource
	conn   net.Conn
	reader *bufio.Reader
}

func newTestRover(t *testing.T, cfg *config.Config) *testRover {
	t.Helper()
	logger := golog.NewTestLogger(t)
	clk := clock.NewMock()

	r, err := New(context.Background(), cfg, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(), test.ShouldBeNil)
	})

	conn, err := net.Dial("tcp", r.server.Addr().String())
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	reader := bufio.NewReader(conn)
	greeting, err := readRoverLine(conn, reader)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(greeting), test.ShouldContainSubstring, "Rover ready")

	tr := &testRover{r: r, clk: clk, conn: conn, reader: reader}
	tr.gps, _ = r.gps.(*fakegps.PositionSource)
	tr.ranger, _ = r.ranger.(*fakerange.RangeSource)
	test.That(t, tr.gps, test.ShouldNotBeNil)
	test.That(t, tr.ranger, test.ShouldNotBeNil)
	return tr
}

func readRoverLine(conn net.Conn, reader *bufio.Reader) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

// command sends one JSON command and returns its reply, skipping over any
// telemetry frames that piled up while the clock was being driven.
func (tr *testRover) command(t *testing.T, payload string) map[string]interface{} {
	t.Helper()
	test.That(t, tr.conn.SetWriteDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	_, err := tr.conn.Write([]byte(payload + "\n"))
	test.That(t, err, test.ShouldBeNil)
	for {
		line, err := readRoverLine(tr.conn, tr.reader)
		test.That(t, err, test.ShouldBeNil)
		var reply map[string]interface{}
		test.That(t, json.Unmarshal(line, &reply), test.ShouldBeNil)
		// telemetry frames carry no status field, replies always do
		if _, isReply := reply["status"]; !isReply {
			continue
		}
		return reply
	}
}

// advanceUntil drives the mock clock in steps until cond holds. The loops run
// on their own goroutines, so each step yields briefly before rechecking.
func (tr *testRover) advanceUntil(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	for i := 0; i < 300; i++ {
		tr.clk.Add(step)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never reached")
}

func TestMissionDrivesWaypointsToCompletion(t *testing.T) {
	tr := newTestRover(t, benchRoverConfig())
	tr.gps.SetFix(37.7740, -122.4200)

	reply := tr.command(t, `{"command":"upload_mission","mission_id":"survey-1",`+
		`"waypoints":[{"lat":37.7749,"lon":-122.4194},{"lat":37.7849,"lon":-122.4094}]}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")
	reply = tr.command(t, `{"command":"resume_mission"}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")

	// guidance picks up the fix and commands the wheels forward
	tr.advanceUntil(t, time.Second, func() bool {
		st := tr.r.drive.Status()
		return st.Driving && st.LeftTarget > 0 && st.RightTarget > 0
	})

	// roll up to the first waypoint; the navigator moves on to the second
	tr.gps.SetFix(37.7749, -122.4194)
	tr.advanceUntil(t, time.Second, func() bool {
		st, ok := tr.r.shared.RoverStatus()
		return ok && st.CurrentWaypoint == 1
	})

	// and to the second; the mission completes and the wheels stop
	tr.gps.SetFix(37.7849, -122.4094)
	tr.advanceUntil(t, time.Second, func() bool {
		_, ms, ok := tr.r.shared.Mission()
		return ok && ms == state.MissionCompleted
	})
	test.That(t, tr.r.drive.Status().Driving, test.ShouldBeFalse)
}

func TestManualDeadManStopsWheels(t *testing.T) {
	tr := newTestRover(t, benchRoverConfig())

	reply := tr.command(t, `{"command":"enable_manual"}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")
	reply = tr.command(t, `{"command":"manual_move","direction":"forward","speed":50}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")

	st := tr.r.drive.Status()
	test.That(t, st.Driving, test.ShouldBeTrue)
	test.That(t, st.LeftTarget, test.ShouldBeGreaterThan, 0)

	// no further commands; the dead man window runs out and motion stops
	tr.advanceUntil(t, 50*time.Millisecond, func() bool {
		return !tr.r.drive.Status().Driving
	})
	mc, ok := tr.r.shared.ManualCommand()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mc.Moving, test.ShouldBeFalse)
}

func TestObstaclePausesActiveMission(t *testing.T) {
	tr := newTestRover(t, benchRoverConfig())
	tr.gps.SetFix(37.7740, -122.4200)

	reply := tr.command(t, `{"command":"upload_mission","mission_id":"survey-2",`+
		`"waypoints":[{"lat":37.7749,"lon":-122.4194}]}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")
	reply = tr.command(t, `{"command":"resume_mission"}`)
	test.That(t, reply["status"], test.ShouldEqual, "success")

	tr.advanceUntil(t, time.Second, func() bool {
		return tr.r.drive.Status().Driving
	})

	// something shows up 3 cm in front of the rover
	tr.ranger.SetDistanceMM(30)
	tr.advanceUntil(t, 100*time.Millisecond, func() bool {
		_, ms, ok := tr.r.shared.Mission()
		return ok && ms == state.MissionPaused
	})
	test.That(t, tr.r.drive.Status().Driving, test.ShouldBeFalse)

	st, ok := tr.r.shared.RoverStatus()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.FrontObstacleCM, test.ShouldEqual, 3.0)
}

func TestUploadTruncatesToCapacity(t *testing.T) {
	tr := newTestRover(t, benchRoverConfig())

	points := make([]string, 0, state.MaxWaypoints+1)
	for i := 0; i <= state.MaxWaypoints; i++ {
		points = append(points, fmt.Sprintf(`{"lat":%f,"lon":%f}`, 37.77+float64(i)/1000, -122.41))
	}
	reply := tr.command(t, `{"command":"upload_mission","mission_id":"survey-3","waypoints":[`+
		strings.Join(points, ",")+`]}`)
	test.That(t, reply["status"], test.ShouldEqual, "error")
	test.That(t, reply["message"], test.ShouldEqual, "Too many waypoints (max 10)")

	count, ok := tr.r.shared.WaypointCount()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, count, test.ShouldEqual, state.MaxWaypoints)
}

func TestReconfigureAppliesTunables(t *testing.T) {
	logger, observed := golog.NewObservedTestLogger(t)
	clk := clock.NewMock()
	r, err := New(context.Background(), benchRoverConfig(), clk, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(), test.ShouldBeNil)
	})

	// an identical config is a no-op
	before := observed.Len()
	r.Reconfigure(benchRoverConfig())
	test.That(t, observed.Len(), test.ShouldEqual, before)

	fresh := benchRoverConfig()
	fresh.Navigation.BaseSpeedPWM = 140
	fresh.Drive.PID = control.PIDConfig{Kp: 3, Ki: 1, Kd: 0.2, OutputLimit: 255}
	fresh.Teleop.DeadManTimeoutMs = 400
	fresh.Server.BindAddress = "127.0.0.1:1"
	r.Reconfigure(fresh)

	test.That(t, r.nav.BaseSpeed(), test.ShouldEqual, 140)
	test.That(t, r.cfg.Drive.PID.Kp, test.ShouldEqual, 3.0)
	test.That(t, r.cfg.Teleop.DeadManTimeoutMs, test.ShouldEqual, 400)
	// the server section cannot change live
	test.That(t, observed.FilterMessageSnippet("restart").Len(), test.ShouldBeGreaterThan, 0)
}

func TestWatchdogReportsSilentTask(t *testing.T) {
	logger, observed := golog.NewObservedTestLogger(t)
	clk := clock.NewMock()
	r, err := New(context.Background(), benchRoverConfig(), clk, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(), test.ShouldBeNil)
	})

	test.That(t, r.watchdogTick(context.Background()), test.ShouldBeNil)
	test.That(t, observed.FilterMessageSnippet("stopped ticking").Len(), test.ShouldEqual, 0)

	// rewind one loop's pulse far enough past its deadline
	r.tasks[0].lastTick.Store(clk.Now().Add(-time.Minute).UnixNano())
	test.That(t, r.watchdogTick(context.Background()), test.ShouldBeNil)
	logs := observed.FilterMessageSnippet("stopped ticking")
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].ContextMap()["task"], test.ShouldEqual, "drive")
}

func TestCalibrationSavedOnceCalibrated(t *testing.T) {
	cfg := benchRoverConfig()
	cfg.DataDir = t.TempDir()
	tr := newTestRover(t, cfg)

	store, err := calibration.NewStore(cfg.DataDir, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	// the imu loop ingests the fully calibrated fake attitude and the
	// watchdog snapshots it into the store
	tr.advanceUntil(t, time.Second, func() bool {
		_, ok, err := store.Load("imu")
		return err == nil && ok
	})

	blob, ok, err := store.Load("imu")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	var cal state.Calibration
	test.That(t, json.Unmarshal(blob, &cal), test.ShouldBeNil)
	test.That(t, cal.Full(), test.ShouldBeTrue)
}
