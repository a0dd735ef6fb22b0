package state

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// DefaultLockTimeout is how long a caller waits on one record's lock before
// giving up for this cycle.
const DefaultLockTimeout = 100 * time.Millisecond

// ErrLockTimeout means a record's lock could not be taken within the bounded
// wait. Callers treat it as stale data and retry on their next cycle, never as
// fatal.
var ErrLockTimeout = errors.New("shared state lock timeout")

// ErrWaypointCapacity is returned when the mission plan is full.
var ErrWaypointCapacity = errors.New("too many waypoints")

// boundedMutex is a channel-based mutex whose acquisition gives up after a
// timeout instead of blocking forever, so a stalled holder cannot starve the
// rest of the system.
type boundedMutex struct {
	ch chan struct{}
}

func newBoundedMutex() boundedMutex {
	return boundedMutex{ch: make(chan struct{}, 1)}
}

func (m boundedMutex) lock(clk clock.Clock, timeout time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
	}
	t := clk.Timer(timeout)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (m boundedMutex) unlock() {
	<-m.ch
}

// SharedState is the set of independently locked records every task reads and
// writes. Each accessor takes exactly one record lock with a bounded wait; no
// method ever holds two, which precludes lock-ordering deadlocks. The mission
// identity/state record is locked separately from the frequently updated
// RoverStatus so slow status writers cannot delay lifecycle transitions.
type SharedState struct {
	clk          clock.Clock
	lockTimeout  time.Duration
	lockTimeouts uint64

	positionMu boundedMutex
	position   Position

	attitudeMu boundedMutex
	attitude   Attitude

	waypointsMu   boundedMutex
	waypoints     [MaxWaypoints]Waypoint
	waypointCount int

	planMu   boundedMutex
	params   MissionParameters
	segments [MaxPathSegments]PathSegment
	segCount int

	statusMu boundedMutex
	status   RoverStatus

	manualMu boundedMutex
	manual   ManualCommand

	missionMu    boundedMutex
	missionID    string
	missionState MissionState
}

// New creates a SharedState. A zero lockTimeout selects DefaultLockTimeout.
func New(clk clock.Clock, lockTimeout time.Duration) *SharedState {
	if clk == nil {
		clk = clock.New()
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &SharedState{
		clk:         clk,
		lockTimeout: lockTimeout,
		positionMu:  newBoundedMutex(),
		attitudeMu:  newBoundedMutex(),
		waypointsMu: newBoundedMutex(),
		planMu:      newBoundedMutex(),
		statusMu:    newBoundedMutex(),
		manualMu:    newBoundedMutex(),
		missionMu:   newBoundedMutex(),
		params:      DefaultMissionParameters(),
	}
}

func (s *SharedState) acquire(mu boundedMutex) bool {
	if mu.lock(s.clk, s.lockTimeout) {
		return true
	}
	atomic.AddUint64(&s.lockTimeouts, 1)
	return false
}

// LockTimeouts counts bounded waits that expired since startup.
func (s *SharedState) LockTimeouts() uint64 {
	return atomic.LoadUint64(&s.lockTimeouts)
}

// Position returns the last fix; ok is false if the lock wait expired.
func (s *SharedState) Position() (Position, bool) {
	if !s.acquire(s.positionMu) {
		return Position{}, false
	}
	defer s.positionMu.unlock()
	return s.position, true
}

func (s *SharedState) SetPosition(p Position) error {
	if !s.acquire(s.positionMu) {
		return ErrLockTimeout
	}
	defer s.positionMu.unlock()
	s.position = p
	return nil
}

func (s *SharedState) Attitude() (Attitude, bool) {
	if !s.acquire(s.attitudeMu) {
		return Attitude{}, false
	}
	defer s.attitudeMu.unlock()
	return s.attitude, true
}

func (s *SharedState) SetAttitude(a Attitude) error {
	if !s.acquire(s.attitudeMu) {
		return ErrLockTimeout
	}
	defer s.attitudeMu.unlock()
	s.attitude = a
	return nil
}

// AddWaypoint appends to the plan while capacity remains.
func (s *SharedState) AddWaypoint(w Waypoint) error {
	if !s.acquire(s.waypointsMu) {
		return ErrLockTimeout
	}
	defer s.waypointsMu.unlock()
	if s.waypointCount >= MaxWaypoints {
		return errors.Wrapf(ErrWaypointCapacity, "max %d", MaxWaypoints)
	}
	w.Valid = true
	s.waypoints[s.waypointCount] = w
	s.waypointCount++
	return nil
}

// SetWaypoints replaces the plan. If more than MaxWaypoints are given, the
// first MaxWaypoints are stored and ErrWaypointCapacity is returned along with
// the stored count.
func (s *SharedState) SetWaypoints(ws []Waypoint) (int, error) {
	if !s.acquire(s.waypointsMu) {
		return 0, ErrLockTimeout
	}
	defer s.waypointsMu.unlock()
	for i := range s.waypoints {
		s.waypoints[i] = Waypoint{}
	}
	n := len(ws)
	var err error
	if n > MaxWaypoints {
		n = MaxWaypoints
		err = errors.Wrapf(ErrWaypointCapacity, "max %d", MaxWaypoints)
	}
	for i := 0; i < n; i++ {
		w := ws[i]
		w.Valid = true
		s.waypoints[i] = w
	}
	s.waypointCount = n
	return n, err
}

func (s *SharedState) ClearWaypoints() error {
	if !s.acquire(s.waypointsMu) {
		return ErrLockTimeout
	}
	defer s.waypointsMu.unlock()
	for i := range s.waypoints {
		s.waypoints[i] = Waypoint{}
	}
	s.waypointCount = 0
	return nil
}

// WaypointAt returns the waypoint at index i; ok is false when the index is
// out of bounds or the lock wait expired.
func (s *SharedState) WaypointAt(i int) (Waypoint, bool) {
	if !s.acquire(s.waypointsMu) {
		return Waypoint{}, false
	}
	defer s.waypointsMu.unlock()
	if i < 0 || i >= s.waypointCount {
		return Waypoint{}, false
	}
	return s.waypoints[i], true
}

func (s *SharedState) WaypointCount() (int, bool) {
	if !s.acquire(s.waypointsMu) {
		return 0, false
	}
	defer s.waypointsMu.unlock()
	return s.waypointCount, true
}

// Waypoints returns a copy of the active plan.
func (s *SharedState) Waypoints() ([]Waypoint, bool) {
	if !s.acquire(s.waypointsMu) {
		return nil, false
	}
	defer s.waypointsMu.unlock()
	out := make([]Waypoint, s.waypointCount)
	copy(out, s.waypoints[:s.waypointCount])
	return out, true
}

// SetMissionPlan stores parameters and optional precomputed segments under one
// lock acquisition. Segments beyond capacity are dropped and reported.
func (s *SharedState) SetMissionPlan(p MissionParameters, segs []PathSegment) (int, error) {
	if !s.acquire(s.planMu) {
		return 0, ErrLockTimeout
	}
	defer s.planMu.unlock()
	s.params = p
	for i := range s.segments {
		s.segments[i] = PathSegment{}
	}
	n := len(segs)
	var err error
	if n > MaxPathSegments {
		n = MaxPathSegments
		err = errors.Errorf("too many path segments, max %d", MaxPathSegments)
	}
	copy(s.segments[:], segs[:n])
	s.segCount = n
	return n, err
}

func (s *SharedState) MissionParameters() (MissionParameters, bool) {
	if !s.acquire(s.planMu) {
		return MissionParameters{}, false
	}
	defer s.planMu.unlock()
	return s.params, true
}

func (s *SharedState) PathSegments() ([]PathSegment, bool) {
	if !s.acquire(s.planMu) {
		return nil, false
	}
	defer s.planMu.unlock()
	out := make([]PathSegment, s.segCount)
	copy(out, s.segments[:s.segCount])
	return out, true
}

func (s *SharedState) RoverStatus() (RoverStatus, bool) {
	if !s.acquire(s.statusMu) {
		return RoverStatus{}, false
	}
	defer s.statusMu.unlock()
	return s.status, true
}

// UpdateRoverStatus mutates the status in place under its lock. Tasks that own
// different fields use this so concurrent writers cannot clobber each other
// with whole-record writes.
func (s *SharedState) UpdateRoverStatus(mutate func(*RoverStatus)) error {
	if !s.acquire(s.statusMu) {
		return ErrLockTimeout
	}
	defer s.statusMu.unlock()
	mutate(&s.status)
	return nil
}

func (s *SharedState) ManualCommand() (ManualCommand, bool) {
	if !s.acquire(s.manualMu) {
		return ManualCommand{}, false
	}
	defer s.manualMu.unlock()
	return s.manual, true
}

func (s *SharedState) UpdateManualCommand(mutate func(*ManualCommand)) error {
	if !s.acquire(s.manualMu) {
		return ErrLockTimeout
	}
	defer s.manualMu.unlock()
	mutate(&s.manual)
	return nil
}

// Mission returns the mission identity and lifecycle state.
func (s *SharedState) Mission() (string, MissionState, bool) {
	if !s.acquire(s.missionMu) {
		return "", MissionIdle, false
	}
	defer s.missionMu.unlock()
	return s.missionID, s.missionState, true
}

func (s *SharedState) SetMission(id string, st MissionState) error {
	if !s.acquire(s.missionMu) {
		return ErrLockTimeout
	}
	defer s.missionMu.unlock()
	s.missionID = id
	s.missionState = st
	return nil
}

func (s *SharedState) SetMissionState(st MissionState) error {
	if !s.acquire(s.missionMu) {
		return ErrLockTimeout
	}
	defer s.missionMu.unlock()
	s.missionState = st
	return nil
}
