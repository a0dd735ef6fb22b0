// Package fake provides a scripted encoder for control-loop tests.
package fake

import (
	"context"
	"sync"

	"github.com/tern-robotics/rover/encoder"
)

var _ = encoder.Encoder(&Encoder{})

// Encoder returns whatever the test scripted. SetDelta sets the value every
// subsequent Delta call reports, standing in for a wheel turning at a steady
// rate.
type Encoder struct {
	mu       sync.Mutex
	position int64
	delta    int64
	speed    float64
	deltas   int
}

// SetDelta sets the per-interval tick count Delta will report.
func (e *Encoder) SetDelta(ticks int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delta = ticks
}

// SetSpeed sets the value Speed reports.
func (e *Encoder) SetSpeed(ticksPerSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = ticksPerSec
}

// Deltas returns how many times Delta has been called.
func (e *Encoder) Deltas() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deltas
}

// Position returns the accumulated tick count.
func (e *Encoder) Position(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position, nil
}

// Delta returns the scripted per-interval tick count and accumulates it into
// the position.
func (e *Encoder) Delta(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position += e.delta
	e.deltas++
	return e.delta, nil
}

// Speed returns the scripted speed.
func (e *Encoder) Speed(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed, nil
}

// Reset zeroes the position.
func (e *Encoder) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = 0
	return nil
}

// Close is a no-op.
func (e *Encoder) Close() error {
	return nil
}
