// Package board abstracts the GPIO hardware the rover is wired to: the output
// pins driving the motor controller and the interrupt lines fed by the wheel
// encoders.
package board

import "context"

// A GPIOPin is a single configurable output pin.
type GPIOPin interface {
	// Set sets the pin to either low or high.
	Set(ctx context.Context, high bool) error

	// Get gets the high/low state of the pin.
	Get(ctx context.Context) (bool, error)

	// SetPWM sets the pin to the given duty cycle, in [0, 1].
	SetPWM(ctx context.Context, dutyCyclePct float64) error

	// SetPWMFreq sets the pin to the given PWM frequency in Hz.
	SetPWMFreq(ctx context.Context, freqHz uint) error
}

// Tick represents one edge observed on a digital interrupt line.
type Tick struct {
	High             bool
	TimestampNanosec uint64
}

// A DigitalInterrupt represents an input line whose edges are distributed to
// subscribed channels.
type DigitalInterrupt interface {
	// Value returns the last observed level of the line, 0 or 1.
	Value(ctx context.Context) (int64, error)

	// Tick is called by the line monitor on every edge.
	Tick(ctx context.Context, high bool, nanoseconds uint64) error

	// AddCallback adds a channel that will receive all future ticks.
	AddCallback(c chan Tick)

	// RemoveCallback removes a previously added channel.
	RemoveCallback(c chan Tick)
}

// A Board is a collection of GPIO pins and digital interrupt lines.
type Board interface {
	// GPIOPinByName returns the named output pin.
	GPIOPinByName(name string) (GPIOPin, error)

	// DigitalInterruptByName returns the named interrupt line.
	DigitalInterruptByName(name string) (DigitalInterrupt, bool)

	// Close shuts down the board and any line monitors it started.
	Close() error
}
