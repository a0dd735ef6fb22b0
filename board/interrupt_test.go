package board

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestBasicDigitalInterrupt(t *testing.T) {
	ctx := context.Background()
	var i BasicDigitalInterrupt

	v, err := i.Value(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, int64(0))

	test.That(t, i.Tick(ctx, true, 100), test.ShouldBeNil)
	v, err = i.Value(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, int64(1))

	test.That(t, i.Tick(ctx, false, 200), test.ShouldBeNil)
	v, err = i.Value(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, int64(0))

	c := make(chan Tick, 2)
	i.AddCallback(c)
	test.That(t, i.Tick(ctx, true, 300), test.ShouldBeNil)
	test.That(t, i.Tick(ctx, false, 400), test.ShouldBeNil)

	tick := <-c
	test.That(t, tick.High, test.ShouldBeTrue)
	test.That(t, tick.TimestampNanosec, test.ShouldEqual, uint64(300))
	tick = <-c
	test.That(t, tick.High, test.ShouldBeFalse)
	test.That(t, tick.TimestampNanosec, test.ShouldEqual, uint64(400))

	i.RemoveCallback(c)
	test.That(t, i.Tick(ctx, true, 500), test.ShouldBeNil)
	test.That(t, len(c), test.ShouldEqual, 0)
}

func TestBasicDigitalInterruptCanceledTick(t *testing.T) {
	var i BasicDigitalInterrupt
	i.AddCallback(make(chan Tick)) // unbuffered and never read

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := i.Tick(ctx, true, 100)
	test.That(t, err, test.ShouldNotBeNil)

	// The level still updated even though no subscriber got the tick.
	v, err := i.Value(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, int64(1))
}
