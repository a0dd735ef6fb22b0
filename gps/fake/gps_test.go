package fake

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestScriptedFix(t *testing.T) {
	clk := clock.NewMock()
	src := NewPositionSource(clk, 37.7749, -122.4194)

	pos, err := src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Valid, test.ShouldBeTrue)
	test.That(t, pos.Lat, test.ShouldAlmostEqual, 37.7749)
	test.That(t, pos.Lng, test.ShouldAlmostEqual, -122.4194)
	test.That(t, pos.Satellites, test.ShouldEqual, 8)

	clk.Add(time.Second)
	src.SetFix(37.7750, -122.4194)
	src.SetDetails(5, 2.5)
	pos, err = src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Lat, test.ShouldAlmostEqual, 37.7750)
	test.That(t, pos.Satellites, test.ShouldEqual, 5)
	test.That(t, pos.HDOP, test.ShouldAlmostEqual, 2.5)
	test.That(t, pos.Timestamp, test.ShouldEqual, clk.Now())

	src.MarkInvalid()
	pos, err = src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Valid, test.ShouldBeFalse)
	// Stale coordinates stay readable, like a real receiver.
	test.That(t, pos.Lat, test.ShouldAlmostEqual, 37.7750)
}

func TestWalkingFix(t *testing.T) {
	clk := clock.NewMock()
	src := NewPositionSource(clk, 0, 0)
	src.Walk(0.001, 0)

	first, err := src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Lat, test.ShouldAlmostEqual, 0)

	second, err := src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Lat, test.ShouldAlmostEqual, 0.001)

	third, err := src.Position(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third.Lat, test.ShouldAlmostEqual, 0.002)

	test.That(t, src.Close(), test.ShouldBeNil)
}
