//go:build !linux

package gpioboard

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/board"
)

// NewBoard returns an error on non-Linux platforms. GPIO character devices
// are a Linux interface; elsewhere the fake board is the only option.
func NewBoard(ctx context.Context, cfg *Config, logger golog.Logger) (board.Board, error) {
	return nil, errors.New("gpioboard is only supported on linux")
}
