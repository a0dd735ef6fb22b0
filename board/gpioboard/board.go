//go:build linux

package gpioboard

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/tern-robotics/rover/board"
)

var _ = board.Board(&Board{})

var periphHostOnce sync.Once

// Board is a Linux GPIO character-device board.
type Board struct {
	gpios      map[string]*gpioPin
	interrupts map[string]*digitalInterrupt

	usePeriphGpio bool
	periphPins    map[string]string

	mu   sync.RWMutex
	pwms map[string]pwmSetting

	logger golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewBoard opens all configured pins and interrupt lines and starts a monitor
// goroutine per interrupt line.
func NewBoard(ctx context.Context, cfg *Config, logger golog.Logger) (board.Board, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	b := &Board{
		usePeriphGpio: cfg.UsePeriphGPIO,
		pwms:          map[string]pwmSetting{},
		logger:        logger,
		cancelCtx:     cancelCtx,
		cancelFunc:    cancelFunc,
	}

	if cfg.UsePeriphGPIO {
		var initErr error
		periphHostOnce.Do(func() {
			_, initErr = host.Init()
		})
		if initErr != nil {
			cancelFunc()
			return nil, errors.Wrap(initErr, "failed to initialize periph host drivers")
		}
		b.periphPins = make(map[string]string, len(cfg.Pins))
		for _, pinConf := range cfg.Pins {
			b.periphPins[pinConf.Name] = pinConf.PeriphName
		}
	} else {
		b.gpios = gpioInitialize(cancelCtx, cfg.Pins, &b.activeBackgroundWorkers, logger)
	}

	b.interrupts = make(map[string]*digitalInterrupt, len(cfg.Interrupts))
	for _, interruptConf := range cfg.Interrupts {
		di, err := b.createDigitalInterrupt(interruptConf)
		if err != nil {
			return nil, multierr.Combine(err, b.Close())
		}
		b.interrupts[interruptConf.Name] = di
	}
	return b, nil
}

// GPIOPinByName returns the named output pin.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	if b.usePeriphGpio {
		return b.periphGPIOPinByName(name)
	}
	pin, ok := b.gpios[name]
	if !ok {
		return nil, errors.Errorf("cannot find GPIO for unknown pin: %s", name)
	}
	return pin, nil
}

func (b *Board) periphGPIOPinByName(name string) (board.GPIOPin, error) {
	periphName, ok := b.periphPins[name]
	if !ok {
		return nil, errors.Errorf("cannot find GPIO for unknown pin: %s", name)
	}
	pin := gpioreg.ByName(periphName)
	if pin == nil {
		return nil, errors.Errorf("no global pin found for %q", periphName)
	}
	return periphGpioPin{b: b, pin: pin, pinName: name}, nil
}

// DigitalInterruptByName returns the named interrupt line.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, bool) {
	di, ok := b.interrupts[name]
	if !ok {
		return nil, false
	}
	return di.interrupt, true
}

// Close stops all monitors and PWM loops and releases the lines.
func (b *Board) Close() error {
	b.mu.Lock()
	b.cancelFunc()
	b.mu.Unlock()
	b.activeBackgroundWorkers.Wait()

	var err error
	for _, pin := range b.gpios {
		err = multierr.Combine(err, pin.Close())
	}
	for _, interrupt := range b.interrupts {
		err = multierr.Combine(err, interrupt.Close())
	}
	return err
}

type pwmSetting struct {
	dutyCycle gpio.Duty
	frequency physic.Frequency
}

type periphGpioPin struct {
	b       *Board
	pin     gpio.PinIO
	pinName string
}

// Set sets the pin level and stops any software PWM loop on the pin.
func (gp periphGpioPin) Set(ctx context.Context, high bool) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	delete(gp.b.pwms, gp.pinName)
	return gp.set(high)
}

// This function is separate from Set(), above, because this one does not
// remove the pin from the board's pwms map. When simulating PWM in software,
// we use this function to turn the pin on and off while continuing to treat
// it as a PWM pin.
func (gp periphGpioPin) set(high bool) error {
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return gp.pin.Out(l)
}

// Get returns the pin level.
func (gp periphGpioPin) Get(ctx context.Context) (bool, error) {
	return gp.pin.Read() == gpio.High, nil
}

// SetPWM sets the duty cycle and starts the software PWM loop if one is not
// already running for this pin.
func (gp periphGpioPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	last, alreadySet := gp.b.pwms[gp.pinName]
	last.dutyCycle = gpio.Duty(dutyCyclePct * float64(gpio.DutyMax))
	gp.b.pwms[gp.pinName] = last

	if !alreadySet {
		gp.b.startSoftwarePWMLoop(gp)
	}
	return nil
}

// SetPWMFreq sets the PWM frequency and starts the software PWM loop if one
// is not already running for this pin.
func (gp periphGpioPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	gp.b.mu.Lock()
	defer gp.b.mu.Unlock()

	last, alreadySet := gp.b.pwms[gp.pinName]
	last.frequency = physic.Hertz * physic.Frequency(freqHz)
	gp.b.pwms[gp.pinName] = last

	if !alreadySet {
		gp.b.startSoftwarePWMLoop(gp)
	}
	return nil
}

// expects to already have the lock acquired.
func (b *Board) startSoftwarePWMLoop(gp periphGpioPin) {
	b.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		b.softwarePWMLoop(b.cancelCtx, gp)
	}, b.activeBackgroundWorkers.Done)
}

func (b *Board) softwarePWMLoop(ctx context.Context, gp periphGpioPin) {
	for {
		cont := func() bool {
			b.mu.RLock()
			defer b.mu.RUnlock()
			pwmSetting, ok := b.pwms[gp.pinName]
			if !ok {
				b.logger.Debug("pwm setting deleted; stopping")
				return false
			}

			if err := gp.set(true); err != nil {
				b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
				return true
			}
			onPeriod := time.Duration(
				int64((float64(pwmSetting.dutyCycle) / float64(gpio.DutyMax)) * float64(pwmSetting.frequency.Period())),
			)
			if !goutils.SelectContextOrWait(ctx, onPeriod) {
				return false
			}
			if err := gp.set(false); err != nil {
				b.logger.Errorw("error setting pin", "pin_name", gp.pinName, "error", err)
				return true
			}
			offPeriod := pwmSetting.frequency.Period() - onPeriod

			return goutils.SelectContextOrWait(ctx, offPeriod)
		}()
		if !cont {
			return
		}
	}
}
