package board

import (
	"context"
	"sync"
	"sync/atomic"
)

// A BasicDigitalInterrupt records the level of a line and distributes every
// tick to all subscribed channels. Board implementations drive it from their
// line monitors.
type BasicDigitalInterrupt struct {
	value int64 // atomic

	mu        sync.RWMutex
	callbacks []chan Tick
}

// Value returns the last observed level of the line.
func (i *BasicDigitalInterrupt) Value(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&i.value), nil
}

// Tick records an edge and forwards it to all subscribed channels. Sends
// block so that subscribers never miss an edge; canceling ctx unblocks them.
func (i *BasicDigitalInterrupt) Tick(ctx context.Context, high bool, nanoseconds uint64) error {
	if high {
		atomic.StoreInt64(&i.value, 1)
	} else {
		atomic.StoreInt64(&i.value, 0)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, c := range i.callbacks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c <- Tick{High: high, TimestampNanosec: nanoseconds}:
		}
	}
	return nil
}

// AddCallback subscribes a channel to all future ticks.
func (i *BasicDigitalInterrupt) AddCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

// RemoveCallback unsubscribes a previously added channel.
func (i *BasicDigitalInterrupt) RemoveCallback(c chan Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id := range i.callbacks {
		if i.callbacks[id] == c {
			// To remove this item, we replace it with the last item in the
			// list, then truncate the list by 1.
			i.callbacks[id] = i.callbacks[len(i.callbacks)-1]
			i.callbacks = i.callbacks[:len(i.callbacks)-1]
			break
		}
	}
}
