// Package navigation executes GPS waypoint missions. A Navigator owns the
// mission lifecycle and runs the guidance cycle that steers the rover along
// the planned track, correcting heading by how far off the track it has
// drifted.
package navigation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/control"
	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/utils"
)

const (
	// DefaultXTEGain converts meters of cross-track error into degrees of
	// heading correction.
	DefaultXTEGain = 10.0
	// DefaultBaseSpeed is the PWM-scale cruise command at the nominal mission
	// pace.
	DefaultBaseSpeed = 100
	// NominalSpeedMps is the pace DefaultBaseSpeed corresponds to; the
	// mission's SpeedMps scales the cruise command against it.
	NominalSpeedMps = 1.0

	// How long the guidance cycle tolerates missing or invalid fixes before
	// complaining. Cycles are skipped either way.
	sensorGapWarnAfter = 5 * time.Second
)

// DefaultHeadingPID is the heading loop tuning applied when the config leaves
// the gains unset. The integral clamp is much tighter than the output range;
// degree-scale errors accumulate fast at the guidance rate.
var DefaultHeadingPID = control.PIDConfig{
	Kp:            0.5,
	Ki:            0.1,
	Kd:            0.05,
	IntegralLimit: 100,
	OutputLimit:   drive.MaxPWM,
}

var (
	// ErrInvalidTransition is returned when a control request is not legal
	// from the current mission state.
	ErrInvalidTransition = errors.New("invalid mission transition")
	// ErrNoWaypoints is returned when a mission is uploaded or started with
	// nothing to follow.
	ErrNoWaypoints = errors.New("mission has no waypoints")
)

// Config tunes the guidance cycle.
type Config struct {
	// HeadingPID steers the rover onto the desired heading.
	HeadingPID control.PIDConfig `json:"heading_pid"`
	// XTEGainDegPerM converts meters of cross-track error into degrees of
	// heading correction.
	XTEGainDegPerM float64 `json:"xte_gain_deg_per_m,omitempty"`
	// BaseSpeedPWM is the cruise command at the nominal mission pace.
	BaseSpeedPWM int `json:"base_speed_pwm,omitempty"`
	// ObstacleStopCM pauses the mission when the front rangefinder reads
	// closer than this.
	ObstacleStopCM float64 `json:"obstacle_stop_cm,omitempty"`
}

// Validate ensures the tuning values are usable.
func (cfg *Config) Validate(path string) error {
	if cfg.XTEGainDegPerM < 0 {
		return errors.Errorf("error validating %q: xte_gain_deg_per_m must not be negative", path)
	}
	if cfg.BaseSpeedPWM < 0 || cfg.BaseSpeedPWM > drive.MaxPWM {
		return errors.Errorf("error validating %q: base_speed_pwm must be in [0, %d]", path, drive.MaxPWM)
	}
	if cfg.ObstacleStopCM < 0 {
		return errors.Errorf("error validating %q: obstacle_stop_cm must not be negative", path)
	}
	return nil
}

// Navigator runs waypoint missions. It owns the mission lifecycle, mirrors it
// into the shared records for telemetry, and emits wheel speeds only while it
// holds motion; when the operator preempts, it keeps computing status.
type Navigator struct {
	drive  *drive.MotorDrive
	shared *state.SharedState
	clk    clock.Clock
	logger golog.Logger

	xteGain    float64
	baseSpeed  int
	obstacleCM float64

	mu            sync.Mutex
	missionID     string
	missionState  state.MissionState
	waypointIndex int
	// legOrigin anchors the current track: the previously reached waypoint,
	// or where the rover was when the mission went active.
	legOrigin  *geo.Point
	startedAt  time.Time
	headingPID *control.PID
	gapSince   time.Time
	gapWarned  bool
}

// New wires a Navigator to the drive and the shared records. A nil clock uses
// the wall clock.
func New(
	d *drive.MotorDrive,
	shared *state.SharedState,
	cfg Config,
	clk clock.Clock,
	logger golog.Logger,
) *Navigator {
	if clk == nil {
		clk = clock.New()
	}
	pid := cfg.HeadingPID
	if pid.Kp == 0 && pid.Ki == 0 && pid.Kd == 0 {
		pid = DefaultHeadingPID
	}
	if pid.OutputLimit == 0 {
		pid.OutputLimit = drive.MaxPWM
	}
	gain := cfg.XTEGainDegPerM
	if gain == 0 {
		gain = DefaultXTEGain
	}
	base := cfg.BaseSpeedPWM
	if base == 0 {
		base = DefaultBaseSpeed
	}
	obstacle := cfg.ObstacleStopCM
	if obstacle == 0 {
		obstacle = state.DefaultObstacleStopCM
	}
	return &Navigator{
		drive:        d,
		shared:       shared,
		clk:          clk,
		logger:       logger,
		xteGain:      gain,
		baseSpeed:    base,
		obstacleCM:   obstacle,
		missionState: state.MissionIdle,
		headingPID:   control.NewPID(pid),
	}
}

// Mission returns the mission identity and lifecycle state.
func (n *Navigator) Mission() (string, state.MissionState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.missionID, n.missionState
}

// WaypointIndex returns which waypoint the rover is heading for.
func (n *Navigator) WaypointIndex() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.waypointIndex
}

// SetBaseSpeed overrides the cruise command. The override persists until the
// next one; it is not reset by uploads.
func (n *Navigator) SetBaseSpeed(pwm int) error {
	if pwm < 0 || pwm > drive.MaxPWM {
		return errors.Errorf("base speed %d is outside [0, %d]", pwm, drive.MaxPWM)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.baseSpeed = pwm
	return nil
}

// BaseSpeed returns the current cruise command in PWM units.
func (n *Navigator) BaseSpeed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.baseSpeed
}

// SetTuning applies new steering gains mid-run. Zero values fall back to the
// defaults the same way New does, and the heading controller restarts clean.
func (n *Navigator) SetTuning(pid control.PIDConfig, xteGainDegPerM float64) {
	if pid.Kp == 0 && pid.Ki == 0 && pid.Kd == 0 {
		pid = DefaultHeadingPID
	}
	if pid.OutputLimit == 0 {
		pid.OutputLimit = drive.MaxPWM
	}
	if xteGainDegPerM == 0 {
		xteGainDegPerM = DefaultXTEGain
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.headingPID.Retune(pid)
	n.xteGain = xteGainDegPerM
	n.logger.Infow("steering retuned", "kp", pid.Kp, "ki", pid.Ki, "kd", pid.Kd,
		"xte_gain_deg_per_m", xteGainDegPerM)
}

// UploadMission replaces the waypoint list and plan and moves the mission to
// Planned from any state, halting whatever leg was being driven. It never
// starts motion. Beyond-capacity waypoints are dropped; the stored count comes
// back along with the capacity error so callers can report the truncation.
func (n *Navigator) UploadMission(
	ctx context.Context,
	id string,
	wps []state.Waypoint,
	params *state.MissionParameters,
) (int, error) {
	if len(wps) == 0 {
		return 0, ErrNoWaypoints
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	stored, storeErr := n.shared.SetWaypoints(wps)
	if stored == 0 {
		return 0, storeErr
	}

	p := state.DefaultMissionParameters()
	if params != nil {
		p = *params
	}
	p, segs := BuildPlan(wps[:stored], p)
	if _, err := n.shared.SetMissionPlan(p, segs); err != nil {
		n.logger.Warnw("failed to store mission plan", "error", err)
	}

	if err := n.drive.Release(ctx, drive.OwnerNavigator); err != nil {
		n.logger.Warnw("failed to halt on mission upload", "error", err)
	}
	n.missionID = id
	n.missionState = state.MissionPlanned
	n.waypointIndex = 0
	n.legOrigin = nil
	n.startedAt = time.Time{}
	n.headingPID.Reset()
	n.gapSince = time.Time{}
	n.gapWarned = false
	n.mirrorMissionLocked()
	if err := n.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.Navigating = false
		st.CurrentWaypoint = 0
		st.TotalWaypoints = stored
		st.CurrentSpeedPct = 0
		st.ProgressPct = 0
		st.CurrentSegment = 0
		st.DistanceToTargetM = 0
		st.CrossTrackErrorM = 0
		st.Elapsed = 0
		st.Remaining = p.EstimatedTime
	}); err != nil {
		n.logger.Warnw("failed to reset rover status", "error", err)
	}
	n.logger.Infow("mission uploaded", "mission_id", id, "waypoints", stored,
		"total_distance_m", p.TotalDistanceM)
	return stored, storeErr
}

// Resume moves the mission to Active from Planned or Paused. Completed and
// Aborted missions need a fresh upload; there is no path from Idle without
// one.
func (n *Navigator) Resume(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.missionState {
	case state.MissionPlanned, state.MissionPaused:
	default:
		return errors.Wrapf(ErrInvalidTransition, "cannot resume from %q", n.missionState)
	}
	if n.startedAt.IsZero() {
		n.startedAt = n.clk.Now()
	}
	n.missionState = state.MissionActive
	n.mirrorMissionLocked()
	if err := n.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.Navigating = true
	}); err != nil {
		n.logger.Warnw("failed to update rover status", "error", err)
	}
	n.logger.Infow("mission active", "mission_id", n.missionID, "waypoint", n.waypointIndex)
	return nil
}

// Pause moves an Active mission to Paused and halts the wheels.
func (n *Navigator) Pause(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.missionState != state.MissionActive {
		return errors.Wrapf(ErrInvalidTransition, "cannot pause from %q", n.missionState)
	}
	return n.haltLocked(ctx, state.MissionPaused)
}

// Abort ends a Planned, Active, or Paused mission and halts the wheels.
func (n *Navigator) Abort(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.missionState {
	case state.MissionPlanned, state.MissionActive, state.MissionPaused:
	default:
		return errors.Wrapf(ErrInvalidTransition, "cannot abort from %q", n.missionState)
	}
	return n.haltLocked(ctx, state.MissionAborted)
}

// Update runs one guidance cycle. Outside Active it does nothing. The cycle
// skips (without touching the wheels) when no valid fix or attitude is
// available. The mission halts on an obstacle, a timeout, or arrival.
func (n *Navigator) Update(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.missionState != state.MissionActive {
		return nil
	}
	now := n.clk.Now()

	// Obstacle pre-emption runs before any steering.
	if st, ok := n.shared.RoverStatus(); ok {
		if st.FrontObstacleCM > 0 && st.FrontObstacleCM < n.obstacleCM {
			n.logger.Warnw("obstacle ahead, pausing mission", "distance_cm", st.FrontObstacleCM)
			return n.haltLocked(ctx, state.MissionPaused)
		}
	}

	params, ok := n.shared.MissionParameters()
	if !ok {
		params = state.DefaultMissionParameters()
	}
	if params.MissionTimeout > 0 && now.Sub(n.startedAt) > params.MissionTimeout {
		n.logger.Warnw("mission timeout exceeded, aborting", "elapsed", now.Sub(n.startedAt))
		return n.haltLocked(ctx, state.MissionAborted)
	}

	pos, posOK := n.shared.Position()
	att, attOK := n.shared.Attitude()
	if !posOK || !attOK || !pos.Valid || !att.Valid {
		n.noteSensorGap(now)
		return nil
	}
	n.gapSince = time.Time{}
	n.gapWarned = false

	count, ok := n.shared.WaypointCount()
	if !ok {
		return nil
	}
	if count == 0 {
		n.logger.Warn("waypoint list is empty, aborting mission")
		return n.haltLocked(ctx, state.MissionAborted)
	}
	if n.waypointIndex >= count {
		return n.completeLocked(ctx)
	}
	target, ok := n.shared.WaypointAt(n.waypointIndex)
	if !ok {
		return nil
	}

	here := pos.Point()
	if n.legOrigin == nil {
		n.legOrigin = here
	}

	distM := here.GreatCircleDistance(target.Point()) * 1000
	if distM <= params.CteThresholdM {
		n.logger.Infow("waypoint reached", "index", n.waypointIndex, "distance_m", distM)
		n.legOrigin = target.Point()
		n.waypointIndex++
		n.headingPID.Reset()
		if n.waypointIndex >= count {
			return n.completeLocked(ctx)
		}
		target, ok = n.shared.WaypointAt(n.waypointIndex)
		if !ok {
			return nil
		}
		distM = here.GreatCircleDistance(target.Point()) * 1000
	}

	xte := CrossTrack(n.legOrigin, here, target.Point())
	bearing := utils.ModAngDeg(here.BearingTo(target.Point()))
	desired := utils.ModAngDeg(bearing - n.xteGain*xte)
	headingErr := utils.NormalizeAngleDeg(desired - att.Heading)
	steering := n.headingPID.Next(headingErr, att.Heading)

	base := n.scaledBaseLocked(params.SpeedMps)
	left := utils.ClampInt(base-int(math.Round(steering)), 0, drive.MaxPWM)
	right := utils.ClampInt(base+int(math.Round(steering)), 0, drive.MaxPWM)

	emitted := false
	if err := n.drive.Acquire(drive.OwnerNavigator); err == nil {
		if err := n.drive.SetWheelSpeeds(drive.OwnerNavigator, left, right); err != nil {
			return err
		}
		emitted = true
	}
	// Acquire fails while the operator holds motion; status still updates.

	n.writeStatusLocked(params, count, distM, xte, base, emitted, now)
	return nil
}

func (n *Navigator) scaledBaseLocked(speedMps float64) int {
	if speedMps <= 0 {
		speedMps = NominalSpeedMps
	}
	scaled := int(math.Round(float64(n.baseSpeed) * speedMps / NominalSpeedMps))
	return utils.ClampInt(scaled, 0, drive.MaxPWM)
}

func (n *Navigator) noteSensorGap(now time.Time) {
	if n.gapSince.IsZero() {
		n.gapSince = now
		return
	}
	if !n.gapWarned && now.Sub(n.gapSince) >= sensorGapWarnAfter {
		n.logger.Warnw("no valid position or attitude, holding guidance", "for", now.Sub(n.gapSince))
		n.gapWarned = true
	}
}

func (n *Navigator) haltLocked(ctx context.Context, st state.MissionState) error {
	err := n.drive.Release(ctx, drive.OwnerNavigator)
	n.missionState = st
	n.mirrorMissionLocked()
	if uerr := n.shared.UpdateRoverStatus(func(rst *state.RoverStatus) {
		rst.Navigating = false
		rst.CurrentSpeedPct = 0
	}); uerr != nil {
		n.logger.Warnw("failed to update rover status", "error", uerr)
	}
	n.logger.Infow("mission "+st.String(), "mission_id", n.missionID, "waypoint", n.waypointIndex)
	return err
}

func (n *Navigator) completeLocked(ctx context.Context) error {
	err := n.drive.Release(ctx, drive.OwnerNavigator)
	n.missionState = state.MissionCompleted
	n.mirrorMissionLocked()
	if uerr := n.shared.UpdateRoverStatus(func(rst *state.RoverStatus) {
		rst.Navigating = false
		rst.CurrentSpeedPct = 0
		rst.CurrentWaypoint = n.waypointIndex
		rst.ProgressPct = 100
		rst.DistanceToTargetM = 0
	}); uerr != nil {
		n.logger.Warnw("failed to update rover status", "error", uerr)
	}
	n.logger.Infow("mission completed", "mission_id", n.missionID, "waypoints", n.waypointIndex)
	return err
}

func (n *Navigator) mirrorMissionLocked() {
	if err := n.shared.SetMission(n.missionID, n.missionState); err != nil {
		n.logger.Warnw("failed to mirror mission state", "error", err)
	}
}

func (n *Navigator) writeStatusLocked(
	params state.MissionParameters,
	count int,
	distM, xte float64,
	base int,
	emitted bool,
	now time.Time,
) {
	progress := n.progressLocked(params, count, distM)
	elapsed := now.Sub(n.startedAt)
	var remaining time.Duration
	if params.EstimatedTime > 0 {
		remaining = time.Duration((1 - progress/100) * float64(params.EstimatedTime))
		if remaining < 0 {
			remaining = 0
		}
	}
	speedPct := 0
	if emitted {
		speedPct = int(math.Round(float64(base) / drive.MaxPWM * 100))
	}
	segment := n.waypointIndex - 1
	if segment < 0 {
		segment = 0
	}
	if err := n.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.Navigating = true
		st.CurrentWaypoint = n.waypointIndex
		st.TotalWaypoints = count
		st.CurrentSpeedPct = speedPct
		st.ProgressPct = progress
		st.CurrentSegment = segment
		st.DistanceToTargetM = distM
		st.CrossTrackErrorM = xte
		st.Elapsed = elapsed
		st.Remaining = remaining
	}); err != nil {
		n.logger.Warnw("failed to update rover status", "error", err)
	}
}

// progressLocked weighs progress by planned distance when segments exist. The
// approach leg to the first waypoint is not part of the plan and counts for
// nothing; without a plan, progress falls back to waypoints reached.
func (n *Navigator) progressLocked(params state.MissionParameters, count int, distM float64) float64 {
	segs, ok := n.shared.PathSegments()
	if ok && len(segs) > 0 && params.TotalDistanceM > 0 {
		var doneM float64
		for i := 0; i < n.waypointIndex-1 && i < len(segs); i++ {
			doneM += segs[i].DistanceM
		}
		if n.waypointIndex >= 1 && n.waypointIndex-1 < len(segs) {
			leg := segs[n.waypointIndex-1].DistanceM
			doneM += utils.ClampF64(leg-distM, 0, leg)
		}
		return utils.ClampF64(doneM/params.TotalDistanceM*100, 0, 100)
	}
	return float64(n.waypointIndex) / float64(count) * 100
}
