// Package server exposes the rover over newline-delimited JSON on TCP: one
// command in, exactly one reply out, plus a periodic telemetry line pushed to
// every connected client.
package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/tern-robotics/rover/navigation"
	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/teleop"
)

const (
	// DefaultBindAddress is where operator consoles expect to find the rover.
	DefaultBindAddress = ":8023"
	// DefaultTelemetryInterval paces the outbound telemetry lines.
	DefaultTelemetryInterval = time.Second
	// writeTimeout bounds how long a slow client can hold up a write before
	// being dropped.
	writeTimeout = 500 * time.Millisecond
)

// Config tunes the command server.
type Config struct {
	BindAddress         string `json:"bind_address,omitempty"`
	TelemetryIntervalMs int    `json:"telemetry_interval_ms,omitempty"`
}

// Validate ensures the server can be brought up.
func (cfg *Config) Validate(path string) error {
	if cfg.TelemetryIntervalMs < 0 {
		return errors.Errorf(`error validating %q: "telemetry_interval_ms" cannot be negative`, path)
	}
	return nil
}

// Server accepts operator connections and routes their commands into the
// navigator and teleop. Telemetry goes out on the same connections.
type Server struct {
	cfg    Config
	shared *state.SharedState
	nav    *navigation.Navigator
	tele   *teleop.Teleop
	clk    clock.Clock
	logger golog.Logger

	listener net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// client is one operator connection. Command replies and telemetry share the
// socket, so writes serialize on the client's own lock.
type client struct {
	conn net.Conn
	mu   sync.Mutex
}

// New wires a server; Start brings up the listener.
func New(
	cfg Config,
	shared *state.SharedState,
	nav *navigation.Navigator,
	tele *teleop.Teleop,
	clk clock.Clock,
	logger golog.Logger,
) *Server {
	if clk == nil {
		clk = clock.New()
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		shared:     shared,
		nav:        nav,
		tele:       tele,
		clk:        clk,
		logger:     logger,
		clients:    map[*client]struct{}{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Start listens and spawns the accept and telemetry workers.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.BindAddress
	if addr == "" {
		addr = DefaultBindAddress
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "server: listening on %s", addr)
	}
	s.listener = listener
	s.logger.Infow("command server listening", "address", listener.Addr().String())

	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(s.acceptLoop, s.activeBackgroundWorkers.Done)

	interval := DefaultTelemetryInterval
	if s.cfg.TelemetryIntervalMs > 0 {
		interval = time.Duration(s.cfg.TelemetryIntervalMs) * time.Millisecond
	}
	ticker := s.clk.Ticker(interval)
	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() { s.telemetryLoop(ticker) }, s.activeBackgroundWorkers.Done)
	return nil
}

// Addr returns the bound address, handy when the config asked for port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.cancelCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Errorw("accept failed", "error", err)
			continue
		}
		s.addClient(conn)
	}
}

func (s *Server) addClient(conn net.Conn) {
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Infow("client connected", "remote", conn.RemoteAddr().String(), "clients", total)

	// Greeting predates the command protocol; old consoles wait for it.
	s.writeLine(c, []byte(`{"status":"connected","message":"Rover ready"}`))

	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() { s.readLoop(c) }, s.activeBackgroundWorkers.Done)
}

func (s *Server) readLoop(c *client) {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.dropClient(c, err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.handleLine(s.cancelCtx, c, line)
	}
}

// dropClient closes and forgets a connection. Safe to call twice; the second
// caller finds the client already gone.
func (s *Server) dropClient(c *client, cause error) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !present {
		return
	}
	utils.UncheckedErrorFunc(c.conn.Close)
	if s.cancelCtx.Err() != nil {
		return
	}
	s.logger.Infow("client disconnected", "remote", c.conn.RemoteAddr().String(), "error", cause)
}

// writeLine sends one newline-terminated frame, dropping the client if it
// cannot keep up. Callers must not hold the server lock.
func (s *Server) writeLine(c *client, frame []byte) {
	c.mu.Lock()
	utils.UncheckedError(c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)))
	_, err := c.conn.Write(append(frame, '\n'))
	c.mu.Unlock()
	if err != nil {
		s.dropClient(c, err)
	}
}

// Close stops accepting and hangs up on every client, then drains the
// worker goroutines.
func (s *Server) Close() error {
	s.cancelFunc()
	var err error
	if s.listener != nil {
		if closeErr := s.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = multierr.Append(err, closeErr)
		}
	}
	s.mu.Lock()
	for c := range s.clients {
		utils.UncheckedErrorFunc(c.conn.Close)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	s.activeBackgroundWorkers.Wait()
	return err
}
