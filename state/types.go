// Package state holds the mutex-guarded records shared by every task in the
// rover: position, attitude, mission plan, live status, and the manual control
// command. It is the single source of truth between the sensor, control, and
// transport loops.
package state

import (
	"time"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
)

const (
	// MaxWaypoints bounds the mission plan.
	MaxWaypoints = 10
	// MaxPathSegments is one fewer than the waypoint capacity.
	MaxPathSegments = MaxWaypoints - 1
	// DefaultObstacleStopCM is how close the front rangefinder reading may get
	// before forward motion is cut.
	DefaultObstacleStopCM = 5.0
)

// Position is the last GPS fix, overwritten wholesale on each update.
type Position struct {
	Lat        float64
	Lng        float64
	Satellites int
	HDOP       float64
	Timestamp  time.Time
	Valid      bool
}

// Point returns the fix as a geo point for navigation math.
func (p Position) Point() *geo.Point {
	return geo.NewPoint(p.Lat, p.Lng)
}

// Calibration carries the four independent 0-3 calibration scores reported by
// the attitude sensor.
type Calibration struct {
	Sys   int
	Gyro  int
	Accel int
	Mag   int
}

// Full reports whether every subsystem reached the top calibration score.
func (c Calibration) Full() bool {
	return c.Sys >= 3 && c.Gyro >= 3 && c.Accel >= 3 && c.Mag >= 3
}

// Attitude is the last fused orientation sample. Heading is degrees clockwise
// from north, after the configured mount offset.
type Attitude struct {
	Heading     float64
	Roll        float64
	Pitch       float64
	Quat        [4]float64
	Accel       r3.Vector
	Gyro        r3.Vector
	Mag         r3.Vector
	LinearAccel r3.Vector
	Gravity     r3.Vector
	Calibration Calibration
	Temperature float64
	Timestamp   time.Time
	Valid       bool
}

// Waypoint is one stop in the mission plan; insertion order is visit order.
type Waypoint struct {
	Lat   float64
	Lng   float64
	Valid bool
}

func (w Waypoint) Point() *geo.Point {
	return geo.NewPoint(w.Lat, w.Lng)
}

// PathSegment is an optional precomputed leg between consecutive waypoints.
type PathSegment struct {
	StartLat       float64
	StartLng       float64
	EndLat         float64
	EndLng         float64
	DistanceM      float64
	BearingDeg     float64
	TargetSpeedMps float64
}

// MissionParameters is set once per mission upload.
type MissionParameters struct {
	SpeedMps       float64
	CteThresholdM  float64
	MissionTimeout time.Duration
	TotalDistanceM float64
	EstimatedTime  time.Duration
}

// DefaultMissionParameters returns the pacing used when an upload omits them.
func DefaultMissionParameters() MissionParameters {
	return MissionParameters{
		SpeedMps:       1.0,
		CteThresholdM:  2.0,
		MissionTimeout: time.Hour,
	}
}

// MissionState is the lifecycle of the loaded mission.
type MissionState int

const (
	MissionIdle MissionState = iota
	MissionPlanned
	MissionActive
	MissionPaused
	MissionCompleted
	MissionAborted
)

func (s MissionState) String() string {
	switch s {
	case MissionIdle:
		return "idle"
	case MissionPlanned:
		return "planned"
	case MissionActive:
		return "active"
	case MissionPaused:
		return "paused"
	case MissionCompleted:
		return "completed"
	case MissionAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RoverStatus is the aggregated live status consumed by telemetry. Different
// tasks update different fields, so writers go through UpdateRoverStatus
// rather than replacing the whole record.
type RoverStatus struct {
	Navigating        bool
	CurrentWaypoint   int
	TotalWaypoints    int
	CurrentSpeedPct   int
	ProgressPct       float64
	CurrentSegment    int
	DistanceToTargetM float64
	CrossTrackErrorM  float64
	Elapsed           time.Duration
	Remaining         time.Duration
	LeftEncoderCount  int64
	RightEncoderCount int64
	FrontObstacleCM   float64
	// FrontObstacleStatus is the rangefinder module's last ranging status
	// word, carried through for telemetry.
	FrontObstacleStatus int
	// Uptime counts from process start, refreshed by the watchdog.
	Uptime time.Duration
}

// Direction is the closed set of manual drive directions.
type Direction int

const (
	DirectionStop Direction = iota
	DirectionForward
	DirectionBackward
	DirectionLeft
	DirectionRight
	DirectionForwardLeft
	DirectionForwardRight
	DirectionBackwardLeft
	DirectionBackwardRight
)

// ErrInvalidDirection is returned when a command names a direction outside the
// closed set.
var ErrInvalidDirection = errors.New("invalid direction")

var directionNames = map[Direction]string{
	DirectionStop:          "stop",
	DirectionForward:       "forward",
	DirectionBackward:      "backward",
	DirectionLeft:          "left",
	DirectionRight:         "right",
	DirectionForwardLeft:   "forward_left",
	DirectionForwardRight:  "forward_right",
	DirectionBackwardLeft:  "backward_left",
	DirectionBackwardRight: "backward_right",
}

func (d Direction) String() string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return "unknown"
}

// MovesForward reports whether the direction advances the rover toward
// whatever the front rangefinder is looking at.
func (d Direction) MovesForward() bool {
	switch d {
	case DirectionForward, DirectionForwardLeft, DirectionForwardRight:
		return true
	default:
		return false
	}
}

// ParseDirection maps a wire string onto the closed direction set.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if s == name {
			return d, nil
		}
	}
	return DirectionStop, errors.Wrapf(ErrInvalidDirection, "%q", s)
}

// ManualCommand is the operator's direct-drive request. If it is not refreshed
// within the teleop dead-man window it is treated as a stop.
type ManualCommand struct {
	Active       bool
	Moving       bool
	Direction    Direction
	SpeedPct     int
	LastReceived time.Time
}
