// Package fake provides a scripted position source for tests and bench runs.
package fake

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tern-robotics/rover/gps"
	"github.com/tern-robotics/rover/state"
)

var _ = gps.PositionSource(&PositionSource{})

// PositionSource replays whatever fix it was last told, optionally drifting
// a fixed step per read so a stationary test rig looks like it is walking.
type PositionSource struct {
	mu      sync.Mutex
	clk     clock.Clock
	pos     state.Position
	stepLat float64
	stepLng float64
}

// NewPositionSource starts with a valid fix at the given coordinates.
func NewPositionSource(clk clock.Clock, lat, lng float64) *PositionSource {
	if clk == nil {
		clk = clock.New()
	}
	return &PositionSource{
		clk: clk,
		pos: state.Position{
			Lat:        lat,
			Lng:        lng,
			Satellites: 8,
			HDOP:       1.0,
			Timestamp:  clk.Now(),
			Valid:      true,
		},
	}
}

// SetFix moves the fix and marks it valid.
func (f *PositionSource) SetFix(lat, lng float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos.Lat = lat
	f.pos.Lng = lng
	f.pos.Timestamp = f.clk.Now()
	f.pos.Valid = true
}

// SetDetails overrides the reported satellite count and dilution.
func (f *PositionSource) SetDetails(satellites int, hdop float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos.Satellites = satellites
	f.pos.HDOP = hdop
}

// MarkInvalid simulates losing the fix. The stale coordinates stay visible,
// matching a real receiver that keeps reporting its last position.
func (f *PositionSource) MarkInvalid() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos.Valid = false
}

// Walk makes every subsequent read drift by the given step.
func (f *PositionSource) Walk(stepLat, stepLng float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepLat = stepLat
	f.stepLng = stepLng
}

// Position returns the current fix, then applies any walking step.
func (f *PositionSource) Position(ctx context.Context) (state.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.pos
	if f.stepLat != 0 || f.stepLng != 0 {
		f.pos.Lat += f.stepLat
		f.pos.Lng += f.stepLng
		f.pos.Timestamp = f.clk.Now()
	}
	return pos, nil
}

// Close is a no-op.
func (f *PositionSource) Close() error {
	return nil
}
