// Package gpioboard implements a Linux GPIO character-device board. Output
// pins go through the ioctl interface by way of mkch's gpio package; setting
// use_periph_gpio switches outputs to periph.io pins instead. Interrupt lines
// always use ioctl line events.
package gpioboard

import (
	"fmt"

	goutils "go.viam.com/utils"
)

// PinConfig names one GPIO line on a chip.
type PinConfig struct {
	Name string `json:"name"`
	// Chip is the gpiochip character device, e.g. /dev/gpiochip0.
	Chip string `json:"chip"`
	// Line is the line offset on the chip.
	Line uint32 `json:"line"`
	// PeriphName is the periph.io pin name, used only when the board has
	// use_periph_gpio set.
	PeriphName string `json:"periph_name,omitempty"`
}

// Validate ensures the pin config is complete.
func (cfg *PinConfig) Validate(path string) error {
	if cfg.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.Chip == "" && cfg.PeriphName == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "chip")
	}
	return nil
}

// Config describes the pins and interrupt lines wired to the rover.
type Config struct {
	UsePeriphGPIO bool        `json:"use_periph_gpio,omitempty"`
	Pins          []PinConfig `json:"pins,omitempty"`
	Interrupts    []PinConfig `json:"interrupts,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	for idx, conf := range cfg.Pins {
		if err := conf.Validate(fmt.Sprintf("%s.%s.%d", path, "pins", idx)); err != nil {
			return err
		}
	}
	for idx, conf := range cfg.Interrupts {
		if err := conf.Validate(fmt.Sprintf("%s.%s.%d", path, "interrupts", idx)); err != nil {
			return err
		}
	}
	return nil
}
