package rangefinder

import (
	"testing"

	"go.viam.com/test"
)

func TestReadingConversions(t *testing.T) {
	r := Reading{DistanceMM: 48}
	test.That(t, r.DistanceCM(), test.ShouldAlmostEqual, 4.8)
	test.That(t, r.OutOfRange(), test.ShouldBeFalse)

	r = Reading{DistanceMM: OutOfRangeMM}
	test.That(t, r.DistanceCM(), test.ShouldAlmostEqual, 819)
	test.That(t, r.OutOfRange(), test.ShouldBeTrue)

	// Some modules report past the sentinel on glare; still clear road.
	r = Reading{DistanceMM: 8500}
	test.That(t, r.OutOfRange(), test.ShouldBeTrue)
}
