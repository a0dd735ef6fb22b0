//go:build linux

// This file is for digital interrupt lines using the ioctl interface,
// indirectly by way of mkch's gpio package.

package gpioboard

import (
	"context"
	"sync"
	"time"

	"github.com/mkch/gpio"
	goutils "go.viam.com/utils"

	"github.com/tern-robotics/rover/board"
)

type digitalInterrupt struct {
	boardWorkers *sync.WaitGroup
	interrupt    *board.BasicDigitalInterrupt
	line         *gpio.LineWithEvent
	cancelCtx    context.Context
	cancelFunc   func()
}

func (b *Board) createDigitalInterrupt(conf PinConfig) (*digitalInterrupt, error) {
	chip, err := gpio.OpenChip(conf.Chip)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(
		conf.Line, gpio.Input, gpio.BothEdges, "rover-interrupt")
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(b.cancelCtx)
	result := digitalInterrupt{
		boardWorkers: &b.activeBackgroundWorkers,
		interrupt:    &board.BasicDigitalInterrupt{},
		line:         line,
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
	}

	// Seed the interrupt with the line's current level so that consumers that
	// read Value before the first edge see the real state.
	if value, err := line.Value(); err == nil {
		goutils.UncheckedError(result.interrupt.Tick(
			cancelCtx, value != 0, uint64(time.Now().UnixNano())))
	}

	result.startMonitor()
	return &result, nil
}

func (di *digitalInterrupt) startMonitor() {
	di.boardWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			select {
			case <-di.cancelCtx.Done():
				return
			case event := <-di.line.Events():
				goutils.UncheckedError(di.interrupt.Tick(
					di.cancelCtx, event.RisingEdge, uint64(event.Time.UnixNano())))
			}
		}
	}, di.boardWorkers.Done)
}

func (di *digitalInterrupt) Close() error {
	// We shut down the background goroutine that monitors this interrupt, but
	// don't need to wait for it to finish shutting down because it doesn't use
	// anything in the line itself (just a channel of events that the line
	// generates). It will shut down sometime soon, and if that's after the
	// line is closed, that's fine.
	di.cancelFunc()
	return di.line.Close()
}
