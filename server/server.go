// Package server implements the ConnectServer: it answers server-list and server-info requests
// from a serverlist.Manager.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → for each frame: protocol.ReadFrame → protocol.Decode → Middleware Chain → dispatch → write reply
//
// Requests on one connection are answered in order; a client that sends F4 06 twice gets two
// replies in the same order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"connect-server/message"
	"connect-server/middleware"
	"connect-server/protocol"
	"connect-server/serverlist"
)

const DefaultIdleTimeout = 60 * time.Second

// Server is the ConnectServer.
type Server struct {
	list        *serverlist.Manager
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu          sync.Mutex
	listener    net.Listener          // TCP listener
	conns       map[net.Conn]struct{} // live connections, interrupted on Shutdown
	wg          sync.WaitGroup        // Tracks connection goroutines for graceful shutdown
	shutdown    atomic.Bool           // Set to true during shutdown to suppress Accept errors
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))
}

type Option func(*Server)

// WithIdleTimeout closes connections that send nothing for d. Zero disables the limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(list *serverlist.Manager, opts ...Option) *Server {
	s := &Server{
		list:        list,
		idleTimeout: DefaultIdleTimeout,
		logger:      log.Logger,
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	// Build the middleware chain once at startup (not per-request)
	handler := middleware.Chain(s.middlewares...)(s.dispatch)

	s.mu.Lock()
	s.listener = ln
	s.handler = handler
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("connect server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn, handler)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConn reads frames sequentially (a single reader is needed to find frame boundaries)
// and answers each one before reading the next.
func (s *Server) handleConn(conn net.Conn, handler middleware.HandlerFunc) {
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("client connected")

	ctx := logger.WithContext(context.Background())
	for {
		var deadline time.Time
		if s.idleTimeout > 0 {
			deadline = time.Now().Add(s.idleTimeout)
		}
		conn.SetReadDeadline(deadline)
		// Shutdown stores the flag before interrupting reads, so checking after the
		// deadline is set cannot miss it.
		if s.shutdown.Load() {
			return
		}
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			s.logReadError(logger, err)
			return
		}
		req, err := protocol.Decode(frame)
		if err != nil {
			logger.Warn().Err(err).Msg("malformed frame, closing connection")
			return
		}

		reply, err := handler(ctx, req)
		if err != nil {
			logger.Warn().Err(err).Stringer("request", req).Msg("request dropped")
			continue
		}
		if reply == nil {
			continue
		}

		// a peer that stops reading must not hold the connection past the idle limit
		if s.idleTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		}
		if err := protocol.WritePacket(conn, reply); err != nil {
			logger.Warn().Err(err).Msg("failed to write reply")
			return
		}
	}
}

func (s *Server) logReadError(logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, protocol.ErrUnknownHead), errors.Is(err, protocol.ErrLengthMismatch):
		logger.Warn().Err(err).Msg("malformed frame, closing connection")
	case errors.Is(err, os.ErrDeadlineExceeded):
		if s.shutdown.Load() {
			logger.Debug().Msg("connection interrupted by shutdown")
		} else {
			logger.Debug().Msg("idle connection timed out")
		}
	default:
		logger.Debug().Err(err).Msg("client disconnected")
	}
}

// dispatch is the innermost handler. Only C1 requests of the connect-server type are answered;
// anything else gets no reply.
func (s *Server) dispatch(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	if req.Head != protocol.HeadC1 || req.Type != protocol.TypeConnectServer {
		return nil, nil
	}

	switch req.Subtype {
	case protocol.SubtypeServerList:
		return s.list.Packet()
	case protocol.SubtypeServerInfo:
		code, err := message.DecodeServerInfoRequest(req.Payload)
		if err != nil {
			return nil, err
		}
		reply, ok := s.list.InfoPacket(code)
		if !ok {
			zerolog.Ctx(ctx).Debug().Uint16("code", code).Msg("server info requested for unknown code")
			return nil, nil
		}
		return reply, nil
	default:
		return nil, nil
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Interrupt connections blocked waiting for their next request
//  4. Wait for connection goroutines to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set shutdown flag BEFORE closing listener
	// If we close first, the Accept error fires before the flag is set,
	// and Serve() would return a real error instead of nil
	s.shutdown.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		// a request already being handled still gets its reply written
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("connect server stopped")
		return nil
	case <-time.After(timeout):
		s.mu.Lock()
		n := len(s.conns)
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		return fmt.Errorf("server: timeout waiting for %d connections to finish", n)
	}
}
