package rover

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/board"
	fakeboard "github.com/tern-robotics/rover/board/fake"
	"github.com/tern-robotics/rover/board/gpioboard"
	"github.com/tern-robotics/rover/config"
	"github.com/tern-robotics/rover/gps"
	fakegps "github.com/tern-robotics/rover/gps/fake"
	"github.com/tern-robotics/rover/imu"
	fakeimu "github.com/tern-robotics/rover/imu/fake"
	"github.com/tern-robotics/rover/rangefinder"
	fakerange "github.com/tern-robotics/rover/rangefinder/fake"
)

func buildBoard(ctx context.Context, cfg *config.Config, logger golog.Logger) (board.Board, error) {
	switch model := cfg.Hardware.BoardModel(); model {
	case config.BoardModelGPIO:
		return gpioboard.NewBoard(ctx, &cfg.Hardware.Board, logger.Named("board"))
	case config.BoardModelFake:
		return fakeboard.NewBoard(), nil
	default:
		return nil, errors.Errorf("unknown board model %q", model)
	}
}

func buildGPS(ctx context.Context, cfg config.SensorConfig, clk clock.Clock, logger golog.Logger) (gps.PositionSource, error) {
	switch cfg.Model {
	case "":
		return nil, nil
	case config.GPSModelSerialNMEA:
		var attrs gps.Config
		if err := config.DecodeAttributes(cfg.Attributes, &attrs); err != nil {
			return nil, err
		}
		if err := attrs.Validate("gps.attributes"); err != nil {
			return nil, err
		}
		return gps.NewSerialNMEA(ctx, attrs, clk, logger)
	case config.SensorModelFake:
		return fakegps.NewPositionSource(clk, 0, 0), nil
	default:
		return nil, errors.Errorf("unknown gps model %q", cfg.Model)
	}
}

func buildIMU(cfg config.SensorConfig, clk clock.Clock, logger golog.Logger) (imu.AttitudeSource, error) {
	switch cfg.Model {
	case "":
		return nil, nil
	case config.SensorModelFake:
		var attrs imu.Config
		if err := config.DecodeAttributes(cfg.Attributes, &attrs); err != nil {
			return nil, err
		}
		if err := attrs.Validate("imu.attributes"); err != nil {
			return nil, err
		}
		return imu.WithHeadingOffset(fakeimu.NewAttitudeSource(clk), attrs.HeadingOffsetDeg), nil
	default:
		return nil, errors.Errorf("unknown imu model %q", cfg.Model)
	}
}

func buildRangefinder(cfg config.SensorConfig) (rangefinder.RangeSource, error) {
	switch cfg.Model {
	case "":
		return nil, nil
	case config.SensorModelFake:
		return fakerange.NewRangeSource(), nil
	default:
		return nil, errors.Errorf("unknown rangefinder model %q", cfg.Model)
	}
}
