package gps

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/jacobsa/go-serial/serial"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/tern-robotics/rover/state"
)

// DefaultBaudRate matches the rate most hobby GPS modules ship with.
const DefaultBaudRate = 9600

// SerialNMEA reads NMEA 0183 sentences off a serial receiver in the
// background and keeps the latest fix for Position callers.
type SerialNMEA struct {
	mu     sync.RWMutex
	dev    io.ReadWriteCloser
	logger golog.Logger
	clk    clock.Clock
	data   gpsData

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewSerialNMEA opens the configured receiver and starts reading from it.
func NewSerialNMEA(ctx context.Context, cfg Config, clk clock.Clock, logger golog.Logger) (*SerialNMEA, error) {
	if err := cfg.Validate("gps"); err != nil {
		return nil, err
	}
	baudRate := cfg.SerialBaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
		logger.Info("gps: serial_baud_rate using default 9600")
	}
	options := serial.OpenOptions{
		PortName:        cfg.SerialPath,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 4,
	}
	dev, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "gps: opening %s", cfg.SerialPath)
	}
	if clk == nil {
		clk = clock.New()
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	g := &SerialNMEA{
		dev:        dev,
		logger:     logger,
		clk:        clk,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	g.start()
	return g, nil
}

// start consumes sentences until the receiver is closed. Lines that fail to
// parse are logged and skipped; the stream interleaves sentence types we do
// not care about.
func (g *SerialNMEA) start() {
	g.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer g.activeBackgroundWorkers.Done()
		r := bufio.NewReader(g.dev)
		for {
			select {
			case <-g.cancelCtx.Done():
				return
			default:
			}

			line, err := r.ReadString('\n')
			if err != nil {
				if g.cancelCtx.Err() != nil {
					return
				}
				g.logger.Errorw("gps: serial read failed", "error", err)
				return
			}
			g.mu.Lock()
			err = g.data.parseAndUpdate(line, g.clk.Now())
			g.mu.Unlock()
			if err != nil {
				g.logger.Debugf("gps: can't parse nmea %s : %s", line, err)
			}
		}
	})
}

// Position returns the latest fix. Valid is false until a sentence with a
// usable fix arrives.
func (g *SerialNMEA) Position(ctx context.Context) (state.Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos := state.Position{
		Satellites: g.data.satellites,
		HDOP:       g.data.hdop,
		Timestamp:  g.data.lastFixAt,
		Valid:      g.data.valid && g.data.point != nil,
	}
	if g.data.point != nil {
		pos.Lat = g.data.point.Lat()
		pos.Lng = g.data.point.Lng()
	}
	return pos, nil
}

// Close stops the reader and releases the serial device.
func (g *SerialNMEA) Close() error {
	g.cancelFunc()
	defer g.activeBackgroundWorkers.Wait()
	if err := g.dev.Close(); err != nil {
		return errors.Wrap(err, "gps: closing serial device")
	}
	return nil
}

// gpsData accumulates fields across sentences; one sentence type rarely
// carries everything we report.
type gpsData struct {
	point      *geo.Point
	satellites int
	hdop       float64
	vdop       float64
	valid      bool
	lastFixAt  time.Time
}

// parseAndUpdate folds one raw sentence into the accumulated fix. The caller
// holds the write lock.
func (d *gpsData) parseAndUpdate(line string, now time.Time) error {
	s, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	switch sentence := s.(type) {
	case nmea.GGA:
		d.valid = sentence.FixQuality != nmea.Invalid
		d.satellites = int(sentence.NumSatellites)
		if sentence.HDOP > 0 {
			d.hdop = sentence.HDOP
		}
		if d.valid {
			d.point = geo.NewPoint(sentence.Latitude, sentence.Longitude)
			d.lastFixAt = now
		}
	case nmea.RMC:
		d.valid = sentence.Validity == nmea.ValidRMC
		if d.valid {
			d.point = geo.NewPoint(sentence.Latitude, sentence.Longitude)
			d.lastFixAt = now
		}
	case nmea.GLL:
		if sentence.Validity == nmea.ValidGLL {
			d.point = geo.NewPoint(sentence.Latitude, sentence.Longitude)
			d.valid = true
			d.lastFixAt = now
		}
	case nmea.GSA:
		if sentence.HDOP > 0 {
			d.hdop = sentence.HDOP
		}
		if sentence.VDOP > 0 {
			d.vdop = sentence.VDOP
		}
	}
	return nil
}
