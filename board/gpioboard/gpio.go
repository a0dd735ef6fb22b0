//go:build linux

// This file is for GPIO output pins using the ioctl interface, indirectly by
// way of mkch's gpio package.

package gpioboard

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/mkch/gpio"
	goutils "go.viam.com/utils"
)

type gpioPin struct {
	// These values should both be considered immutable.
	devicePath string
	offset     uint32
	line       *gpio.Line

	// These values are mutable. Lock the mutex when interacting with them.
	pwmRunning      bool
	pwmFreqHz       uint
	pwmDutyCyclePct float64

	mu        sync.Mutex
	cancelCtx context.Context
	waitGroup *sync.WaitGroup
	logger    golog.Logger
}

// This helper should only be called when the mutex is locked. It sets
// pin.line to a valid struct or returns an error.
func (pin *gpioPin) openGpioFd() error {
	if pin.line != nil {
		return nil // The pin is already opened, don't re-open it.
	}

	chip, err := gpio.OpenChip(pin.devicePath)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(chip.Close)

	// The 0 means the default value for this pin is off. We'll set it to the
	// intended value in Set(), below.
	line, err := chip.OpenLine(pin.offset, 0, gpio.Output, "rover-gpio")
	if err != nil {
		return err
	}
	pin.line = line
	return nil
}

// Set sets the pin level and stops any software PWM loop on the pin.
func (pin *gpioPin) Set(ctx context.Context, high bool) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openGpioFd(); err != nil {
		return err
	}

	pin.pwmRunning = false
	return pin.setInternal(high)
}

// This function assumes you've already locked the mutex. It sets the value of
// a pin without changing whether the pin is part of a PWM loop.
func (pin *gpioPin) setInternal(high bool) error {
	var value byte
	if high {
		value = 1
	}
	return pin.line.SetValue(value)
}

// Get returns the pin level.
func (pin *gpioPin) Get(ctx context.Context) (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openGpioFd(); err != nil {
		return false, err
	}

	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}

	// We'd expect value to be either 0 or 1, but any non-zero value should be
	// considered high.
	return (value != 0), nil
}

// Lock the mutex before calling this! We'll spin up a background goroutine to
// create a PWM signal in software, if we're supposed to and one isn't already
// running.
func (pin *gpioPin) startSoftwarePWM() error {
	if pin.pwmDutyCyclePct == 0 || pin.pwmFreqHz == 0 {
		// We don't have both parameters set up. Stop any PWM loop we might
		// have started already, and turn the pin off.
		pin.pwmRunning = false
		return pin.setInternal(false)
	}
	if pin.pwmRunning {
		return nil
	}

	pin.pwmRunning = true
	pin.waitGroup.Add(1)
	goutils.ManagedGo(pin.softwarePwmLoop, pin.waitGroup.Done)
	return nil
}

// We turn the pin either on or off, and then wait until it's time to toggle
// it again (or until we're supposed to shut down). We return whether we
// should continue the software PWM cycle.
func (pin *gpioPin) halfPwmCycle(shouldBeOn bool) bool {
	var dutyCycle float64
	var freqHz uint

	shouldContinue := func() bool {
		pin.mu.Lock()
		defer pin.mu.Unlock()
		// Before we modify the pin, check if we should stop running.
		if !pin.pwmRunning {
			return false
		}

		dutyCycle = pin.pwmDutyCyclePct
		freqHz = pin.pwmFreqHz

		// If there's an error toggling the pin, don't stop the whole loop.
		// Hopefully we can toggle it next time. However, log any errors so
		// that we notice if there are a bunch of them.
		goutils.UncheckedErrorFunc(func() error { return pin.setInternal(shouldBeOn) })
		return true
	}()

	if !shouldContinue {
		return false
	}

	if !shouldBeOn {
		dutyCycle = 1 - dutyCycle
	}
	duration := time.Duration(float64(time.Second) * dutyCycle / float64(freqHz))
	return goutils.SelectContextOrWait(pin.cancelCtx, duration)
}

func (pin *gpioPin) softwarePwmLoop() {
	for {
		if !pin.halfPwmCycle(true) {
			return
		}
		if !pin.halfPwmCycle(false) {
			return
		}
	}
}

// SetPWM sets the duty cycle and starts the software PWM loop if needed.
func (pin *gpioPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmDutyCyclePct = dutyCyclePct
	return pin.startSoftwarePWM()
}

// SetPWMFreq sets the PWM frequency and starts the software PWM loop if
// needed.
func (pin *gpioPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmFreqHz = freqHz
	return pin.startSoftwarePWM()
}

// Close releases the line. We keep the gpio.Line object open indefinitely so
// it holds its state for as long as this struct is around; this is how we
// avoid leaking its file descriptor when the board shuts down.
func (pin *gpioPin) Close() error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if pin.line == nil {
		return nil // Never opened, so no need to close.
	}

	err := pin.line.Close()
	pin.line = nil
	return err
}

func gpioInitialize(cancelCtx context.Context, pinConfigs []PinConfig,
	waitGroup *sync.WaitGroup, logger golog.Logger,
) map[string]*gpioPin {
	pins := make(map[string]*gpioPin, len(pinConfigs))
	for _, conf := range pinConfigs {
		pins[conf.Name] = &gpioPin{
			devicePath: conf.Chip,
			offset:     conf.Line,
			cancelCtx:  cancelCtx,
			waitGroup:  waitGroup,
			logger:     logger,
		}
	}
	return pins
}
