// Package fake implements an in-memory board for tests. Pins and interrupt
// lines are created on first use, and tests can inject encoder edges through
// Tick.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/board"
)

// Pin is an in-memory GPIO pin that records what was last set on it.
type Pin struct {
	mu      sync.Mutex
	high    bool
	pwm     float64
	pwmFreq uint
}

// Set sets the pin level.
func (p *Pin) Set(ctx context.Context, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
	p.pwm = 0
	return nil
}

// Get returns the pin level.
func (p *Pin) Get(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, nil
}

// SetPWM records the duty cycle.
func (p *Pin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pwm = dutyCyclePct
	return nil
}

// SetPWMFreq records the PWM frequency.
func (p *Pin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pwmFreq = freqHz
	return nil
}

// PWM returns the last duty cycle set on the pin.
func (p *Pin) PWM() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pwm
}

// PWMFreq returns the last PWM frequency set on the pin.
func (p *Pin) PWMFreq() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pwmFreq
}

// High reports whether the pin was last set high.
func (p *Pin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Board is an in-memory board.
type Board struct {
	mu         sync.Mutex
	pins       map[string]*Pin
	interrupts map[string]*board.BasicDigitalInterrupt
	closed     bool
}

// NewBoard returns a board with no pins; pins and interrupts come into
// existence as they are looked up.
func NewBoard() *Board {
	return &Board{
		pins:       map[string]*Pin{},
		interrupts: map[string]*board.BasicDigitalInterrupt{},
	}
}

// GPIOPinByName returns the named pin, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.Pin(name), nil
}

// Pin is like GPIOPinByName but returns the concrete type so tests can
// inspect what was set.
func (b *Board) Pin(name string) *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	pin, ok := b.pins[name]
	if !ok {
		pin = &Pin{}
		b.pins[name] = pin
	}
	return pin
}

// DigitalInterruptByName returns the named interrupt line, creating it if
// needed.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, bool) {
	return b.interrupt(name), true
}

func (b *Board) interrupt(name string) *board.BasicDigitalInterrupt {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.interrupts[name]
	if !ok {
		i = &board.BasicDigitalInterrupt{}
		b.interrupts[name] = i
	}
	return i
}

// Tick injects an edge on the named interrupt line.
func (b *Board) Tick(ctx context.Context, name string, high bool, nanoseconds uint64) error {
	return b.interrupt(name).Tick(ctx, high, nanoseconds)
}

// Close marks the board closed.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("board already closed")
	}
	b.closed = true
	return nil
}
