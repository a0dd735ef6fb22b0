// Package rangefinder supplies the forward obstacle distance. The
// time-of-flight module lives behind RangeSource; the rover only consumes
// centimeters and an out-of-range signal.
package rangefinder

import "context"

// OutOfRangeMM is what the time-of-flight module reports when the return
// pulse never comes back. Readings at or past it mean clear road ahead.
const OutOfRangeMM = 8190

// Reading is one ranging sample.
type Reading struct {
	// DistanceMM is the measured distance in millimeters.
	DistanceMM int
	// Status is the module's ranging status word. Zero is a clean measure;
	// the module flags phase failures with 4 and the driver substitutes
	// OutOfRangeMM for the distance when that happens.
	Status int
}

// OutOfRange reports whether the sample saw nothing in front of the module.
func (r Reading) OutOfRange() bool {
	return r.DistanceMM >= OutOfRangeMM
}

// DistanceCM converts to the centimeters the rest of the rover works in.
func (r Reading) DistanceCM() float64 {
	return float64(r.DistanceMM) / 10
}

// A RangeSource produces the most recent forward distance sample.
type RangeSource interface {
	Distance(ctx context.Context) (Reading, error)
	Close() error
}
