// Package fake provides an in-memory motor for control-loop tests.
package fake

import (
	"context"
	"sync"

	"github.com/tern-robotics/rover/motor"
)

var _ = motor.Motor(&Motor{})

// Motor records the power applied to it.
type Motor struct {
	mu       sync.Mutex
	powerPct float64
	stops    int
}

// SetPower records the power fraction.
func (m *Motor) SetPower(ctx context.Context, powerPct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerPct = powerPct
	return nil
}

// Stop zeroes the power and counts the stop.
func (m *Motor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerPct = 0
	m.stops++
	return nil
}

// IsPowered reports whether the motor is powered and at what fraction.
func (m *Motor) IsPowered(ctx context.Context) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerPct != 0, m.powerPct, nil
}

// PowerPct returns the last power fraction applied.
func (m *Motor) PowerPct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerPct
}

// Stops returns how many times Stop has been called.
func (m *Motor) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
