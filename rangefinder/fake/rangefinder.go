// Package fake provides a scripted rangefinder for tests and bench runs.
package fake

import (
	"context"
	"sync"

	"github.com/tern-robotics/rover/rangefinder"
)

var _ = rangefinder.RangeSource(&RangeSource{})

// RangeSource replays whatever reading it was last told. It starts out of
// range, the same as a module staring at open road.
type RangeSource struct {
	mu      sync.Mutex
	reading rangefinder.Reading
}

// NewRangeSource returns a source reporting nothing ahead.
func NewRangeSource() *RangeSource {
	return &RangeSource{
		reading: rangefinder.Reading{DistanceMM: rangefinder.OutOfRangeMM},
	}
}

// SetDistanceMM places an obstacle at the given distance.
func (f *RangeSource) SetDistanceMM(mm int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = rangefinder.Reading{DistanceMM: mm}
}

// SetReading replaces the whole sample, status included.
func (f *RangeSource) SetReading(r rangefinder.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = r
}

// Clear removes the obstacle.
func (f *RangeSource) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = rangefinder.Reading{DistanceMM: rangefinder.OutOfRangeMM}
}

// Distance returns the current sample.
func (f *RangeSource) Distance(ctx context.Context) (rangefinder.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading, nil
}

// Close is a no-op.
func (f *RangeSource) Close() error {
	return nil
}
