package nbd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/cloudnbd/internal/logger"
	"github.com/marmos91/cloudnbd/pkg/export"
)

// Server accepts NBD connections on a TCP listener, runs the handshake on
// each, and hands off to a Session for the transmission phase. One
// goroutine serves one connection for its entire lifetime.
type Server struct {
	table    *export.Table
	metrics  Metrics
	listener net.Listener

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer builds a Server exporting the given table. metrics may be nil.
func NewServer(table *export.Table, metrics Metrics) *Server {
	return &Server{
		table:    table,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
}

// Serve listens on addr and runs the accept loop until ctx is canceled or
// Stop is called.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("nbd: listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("nbd: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	handle, err := Handshake(conn, s.table)
	if err != nil {
		if errors.Is(err, ErrAbort) {
			logger.Debug("nbd client aborted handshake", "remote_addr", conn.RemoteAddr().String())
			return
		}
		logger.Warn("nbd handshake failed", "remote_addr", conn.RemoteAddr().String(), "error", err.Error())
		return
	}

	session := NewSession(conn, handle, s.metrics)
	if err := session.Run(ctx); err != nil {
		logger.Warn("nbd session ended with error", "remote_addr", conn.RemoteAddr().String(), "error", err.Error())
	}
}

// Addr returns the listener's address. Only valid after Serve has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener so Serve's accept loop returns. It does not
// close or wait for connections already being served; Wait does the
// waiting. Safe to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// Wait blocks until all connection-handling goroutines have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
