// Package agi serves the FastAGI sessions Asterisk opens from the outbound
// dialplan. Each session carries the caller and the dialed destination as
// positional arguments and receives the authorization decision back as
// channel variables.
package agi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	cyagi "github.com/CyCoreSystems/agi"
)

// Argument variables Asterisk sends for AGI(url,caller,destination).
const (
	VarCaller      = "agi_arg_1"
	VarDestination = "agi_arg_2"
)

// Session is the call-control capability a Handler drives. Implementations
// wrap one protocol connection.
type Session interface {
	// AwaitVariables blocks until the initial variable block arrives.
	AwaitVariables(ctx context.Context) (map[string]string, error)
	// Variable returns a variable received in the initial block.
	Variable(name string) (string, bool)
	// SetVariable writes a channel variable back to the routing engine.
	SetVariable(ctx context.Context, name, value string) error
	// End releases the connection. Calls after the first are no-ops.
	End() error
	// Errors delivers asynchronous protocol errors. It is closed by End.
	Errors() <-chan error
}

var errSessionEnded = errors.New("session ended")

// fastAGISession adapts a CyCoreSystems/agi connection to Session.
type fastAGISession struct {
	nc net.Conn

	mu   sync.Mutex
	conn *cyagi.AGI
	vars map[string]string

	errs    chan error
	closed  bool
	endOnce sync.Once
	ended   chan struct{}
}

func newFastAGISession(nc net.Conn) *fastAGISession {
	return &fastAGISession{
		nc:    nc,
		errs:  make(chan error, 4),
		ended: make(chan struct{}),
	}
}

// AwaitVariables reads the agi_* environment block. The library read has
// no deadline of its own, so cancellation closes the socket to unblock it.
func (s *fastAGISession) AwaitVariables(ctx context.Context) (map[string]string, error) {
	type result struct {
		conn *cyagi.AGI
	}
	done := make(chan result, 1)
	go func() {
		done <- result{conn: cyagi.NewConn(s.nc)}
	}()

	select {
	case <-ctx.Done():
		s.nc.Close()
		return nil, fmt.Errorf("awaiting agi variables: %w", ctx.Err())
	case <-s.ended:
		return nil, errSessionEnded
	case r := <-done:
		if len(r.conn.Variables) == 0 {
			return nil, errors.New("awaiting agi variables: connection closed before environment block")
		}
		s.mu.Lock()
		s.conn = r.conn
		s.vars = r.conn.Variables
		s.mu.Unlock()
		return r.conn.Variables, nil
	}
}

func (s *fastAGISession) Variable(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	return v, ok
}

// SetVariable issues SET VARIABLE. Write failures are also reported on the
// error channel so the session's listener sees them.
func (s *fastAGISession) SetVariable(ctx context.Context, name, value string) error {
	select {
	case <-s.ended:
		return errSessionEnded
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("set variable before environment block")
	}

	if err := conn.Set(name, value); err != nil {
		err = fmt.Errorf("set variable %s: %w", name, err)
		s.report(err)
		return err
	}
	return nil
}

func (s *fastAGISession) End() error {
	var err error
	s.endOnce.Do(func() {
		close(s.ended)
		err = s.nc.Close()

		s.mu.Lock()
		s.closed = true
		close(s.errs)
		s.mu.Unlock()
	})
	return err
}

func (s *fastAGISession) Errors() <-chan error {
	return s.errs
}

// report queues an asynchronous error without blocking the caller.
func (s *fastAGISession) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
