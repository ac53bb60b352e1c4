// Package control is a line-oriented operator interface in the style of the
// MPD protocol. Every command names the guild it acts on.
package control

import (
	"context"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/coordinator"
	"github.com/disconic/disconic/internal/player"
)

// Coordinator executes intents against the session registry
type Coordinator interface {
	Execute(ctx context.Context, in coordinator.Intent) (coordinator.Result, error)
	Registry() *player.Registry
}

// Server implements the control protocol server
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	coord    Coordinator
	addr     string
	running  bool
	logger   *zap.Logger

	// Idle connection management
	idleMu    sync.RWMutex
	idleConns map[*idleConnection]bool
}

// NewServer creates a new control server
func NewServer(addr string, coord Coordinator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:      addr,
		coord:     coord,
		logger:    logger.Named("control"),
		idleConns: make(map[*idleConnection]bool),
	}

	// Wake idle connections on session changes
	coord.Registry().Subscribe(s.NotifySubsystemChange)

	return s
}

// Start starts listening
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(err, "failed to start control server")
	}

	s.listener = listener
	s.running = true

	s.logger.Info("Control server listening", zap.String("addr", listener.Addr().String()))

	go s.acceptLoop(listener)

	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server and wakes idle clients
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	s.cancelIdle()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Serve runs the server until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			s.logger.Warn("Accept error", zap.Error(err))
			continue
		}

		go s.handleConnection(conn)
	}
}
