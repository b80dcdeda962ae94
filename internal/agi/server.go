package agi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Server accepts FastAGI connections and runs each one through a Handler
// on its own goroutine.
type Server struct {
	addr    string
	handler *Handler
	logger  *slog.Logger

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewServer creates a FastAGI server listening on addr once started.
func NewServer(addr string, handler *Handler, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With("component", "agi"),
	}
}

// Start binds the listener and begins accepting sessions in the
// background. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.ln = ln
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("fastagi listener starting", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("accepting fastagi connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.With(
		"session_id", uuid.NewString(),
		"remote", nc.RemoteAddr().String(),
	)
	logger.Debug("fastagi session opened")

	s.handler.Serve(ctx, newFastAGISession(nc), logger)
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveSessions returns the number of in-flight sessions.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Stop closes the listener and waits for in-flight sessions to finish.
func (s *Server) Stop() {
	s.logger.Info("stopping fastagi server")
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	s.logger.Info("fastagi server stopped")
}
