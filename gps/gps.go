// Package gps supplies position fixes to the rest of the rover. The ingest
// loop polls a PositionSource and copies fixes into the shared records.
package gps

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/state"
)

// A PositionSource produces the most recent fix. Implementations keep reading
// in the background; Position never blocks on the receiver hardware.
type PositionSource interface {
	Position(ctx context.Context) (state.Position, error)
	Close() error
}

// Config selects and tunes the serial NMEA receiver.
type Config struct {
	// SerialPath is the receiver's serial device.
	SerialPath string `json:"serial_path"`
	// SerialBaudRate defaults to 9600, the common GPS module rate.
	SerialBaudRate uint `json:"serial_baud_rate,omitempty"`
}

// Validate ensures the receiver can be opened.
func (cfg *Config) Validate(path string) error {
	if cfg.SerialPath == "" {
		return errors.Errorf(`error validating %q: "serial_path" is required`, path)
	}
	return nil
}
