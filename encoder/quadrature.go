package encoder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/tern-robotics/rover/board"
)

var _ = Encoder(&Quadrature{})

// Quadrature decodes a two-channel quadrature signal. Every valid transition
// of the AB pair counts one tick, so a wheel with N slots yields 4N ticks per
// revolution.
type Quadrature struct {
	a        board.DigitalInterrupt
	b        board.DigitalInterrupt
	reversed bool

	position      int64 // atomic
	deltaBaseline int64 // atomic

	// Only the monitor goroutine touches these.
	aHigh  bool
	bHigh  bool
	pState int64

	speedMu     sync.Mutex
	clk         clock.Clock
	lastDeltaAt time.Time
	lastSpeed   float64

	logger                  golog.Logger
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewQuadrature looks up the configured interrupt lines on the board and
// starts the goroutine that folds their edges into the tick count.
func NewQuadrature(
	ctx context.Context,
	brd board.Board,
	cfg Config,
	clk clock.Clock,
	logger golog.Logger,
) (*Quadrature, error) {
	interruptA, ok := brd.DigitalInterruptByName(cfg.PinA)
	if !ok {
		return nil, errors.Errorf("cannot find interrupt line %q", cfg.PinA)
	}
	interruptB, ok := brd.DigitalInterruptByName(cfg.PinB)
	if !ok {
		return nil, errors.Errorf("cannot find interrupt line %q", cfg.PinB)
	}
	if clk == nil {
		clk = clock.New()
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	e := &Quadrature{
		a:          interruptA,
		b:          interruptB,
		reversed:   cfg.Reversed,
		clk:        clk,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	if err := e.start(ctx); err != nil {
		cancelFunc()
		return nil, err
	}
	return e, nil
}

func (e *Quadrature) start(ctx context.Context) error {
	ticksA := make(chan board.Tick)
	ticksB := make(chan board.Tick)

	aLevel, err := e.a.Value(ctx)
	if err != nil {
		return errors.Wrap(err, "reading initial level of channel A")
	}
	bLevel, err := e.b.Value(ctx)
	if err != nil {
		return errors.Wrap(err, "reading initial level of channel B")
	}
	e.aHigh = aLevel != 0
	e.bHigh = bLevel != 0
	e.pState = stateOf(e.aHigh, e.bHigh)

	e.a.AddCallback(ticksA)
	e.b.AddCallback(ticksB)

	e.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		defer e.a.RemoveCallback(ticksA)
		defer e.b.RemoveCallback(ticksB)
		for {
			select {
			case <-e.cancelCtx.Done():
				return
			case tick := <-ticksA:
				e.aHigh = tick.High
			case tick := <-ticksB:
				e.bHigh = tick.High
			}
			e.Tick(e.aHigh, e.bHigh)
		}
	}, e.activeBackgroundWorkers.Done)
	return nil
}

func stateOf(aHigh, bHigh bool) int64 {
	var s int64
	if aHigh {
		s |= 1
	}
	if bHigh {
		s |= 2
	}
	return s
}

// Tick consumes one sampled state of the A and B lines and updates the
// position. Only the monitor goroutine may call it; everyone else reads the
// position atomically.
func (e *Quadrature) Tick(aHigh, bHigh bool) {
	nState := stateOf(aHigh, bHigh)
	if e.pState == nState {
		return
	}
	switch (e.pState << 2) | nState {
	case 0b0001, 0b0111, 0b1000, 0b1110:
		e.step(-1)
	case 0b0010, 0b0100, 0b1011, 0b1101:
		e.step(1)
	default:
		// Both channels flipped at once. A real encoder cannot do that in one
		// step, so treat it as bounce and count nothing.
	}
	e.pState = nState
}

func (e *Quadrature) step(dir int64) {
	if e.reversed {
		dir = -dir
	}
	atomic.AddInt64(&e.position, dir)
}

// Position returns the accumulated tick count.
func (e *Quadrature) Position(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&e.position), nil
}

// Delta returns the ticks accumulated since the previous call and moves the
// baseline forward. Edges that land between the two atomic operations are
// charged to the next delta, never lost.
func (e *Quadrature) Delta(ctx context.Context) (int64, error) {
	pos := atomic.LoadInt64(&e.position)
	prev := atomic.SwapInt64(&e.deltaBaseline, pos)
	delta := pos - prev

	e.speedMu.Lock()
	now := e.clk.Now()
	if !e.lastDeltaAt.IsZero() {
		if dt := now.Sub(e.lastDeltaAt).Seconds(); dt > 0 {
			e.lastSpeed = float64(delta) / dt
		}
	}
	e.lastDeltaAt = now
	e.speedMu.Unlock()

	return delta, nil
}

// Speed returns ticks per second measured across the two most recent Delta
// calls.
func (e *Quadrature) Speed(ctx context.Context) (float64, error) {
	e.speedMu.Lock()
	defer e.speedMu.Unlock()
	return e.lastSpeed, nil
}

// Reset zeroes the position, the delta baseline, and the speed history.
func (e *Quadrature) Reset(ctx context.Context) error {
	atomic.StoreInt64(&e.position, 0)
	atomic.StoreInt64(&e.deltaBaseline, 0)
	e.speedMu.Lock()
	e.lastDeltaAt = time.Time{}
	e.lastSpeed = 0
	e.speedMu.Unlock()
	return nil
}

// Close stops the monitor goroutine.
func (e *Quadrature) Close() error {
	e.cancelFunc()
	e.activeBackgroundWorkers.Wait()
	return nil
}
