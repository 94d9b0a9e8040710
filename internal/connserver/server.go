// Package connserver implements the daemon's Unix-socket transport: the
// accept loop and per-connection NDJSON read/dispatch/write cycle. It
// is deliberately dispatch-policy-free — every request is handed to a
// caller-supplied Handler and the resulting Response written back in
// arrival order, for free, because each connection reads and responds
// on the same goroutine.
package connserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/coven/busd/internal/logging"
	"github.com/coven/busd/internal/wire"
	"github.com/google/uuid"
)

// Handler answers one parsed Request. Implementations run with no lock
// held by this package — internal/dispatch.Engine is the one that
// serializes.
type Handler func(ctx context.Context, req wire.Request) wire.Response

// Server listens on a Unix domain socket and dispatches NDJSON frames.
type Server struct {
	socketPath string
	handle     Handler
	log        *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a Server that will listen on socketPath and dispatch
// every parsed request to handle.
func New(socketPath string, handle Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDiscard()
	}
	return &Server{
		socketPath: socketPath,
		handle:     handle,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds socketPath, chmods it owner-only, and begins accepting
// connections in the background. It does not unlink an existing socket
// file first — callers that have already established the prior install
// is dead (busaddr.IsStale) are responsible for removing it before
// calling Start; a live socket must be left alone so net.Listen fails
// with EADDRINUSE instead of silently stealing it out from under
// whatever bound it.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("connserver: already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("connserver: listen: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("connserver: chmod socket: %w", err)
	}

	s.listener = listener
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("connserver: accept failed", "err", err)
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	connID := uuid.New().String()
	dec := wire.NewDecoder(conn)
	enc := wire.NewEncoder(conn)

	for {
		frame, err := dec.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("connserver: read failed", "conn", connID, "err", err)
			}
			return
		}

		req, errResp := wire.ParseRequest(frame)
		if errResp != nil {
			if err := enc.Encode(*errResp); err != nil {
				return
			}
			continue
		}

		resp := s.handle(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// Stop broadcasts a shutdown frame to every open connection, stops
// accepting new ones, and waits up to drain for in-flight handlers to
// finish before force-closing any stragglers.
func (s *Server) Stop(ctx context.Context, drain time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false

	shutdown := wire.NewShutdownFrame()
	for conn := range s.conns {
		enc := wire.NewEncoder(conn)
		_ = enc.Encode(shutdown)
	}
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drain)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
	case <-ctx.Done():
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("connserver: remove socket: %w", err)
	}
	return nil
}

// IsRunning reports whether Start has succeeded and Stop has not yet run.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
