package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionHooks sets the callbacks run when connections open and close.
func WithSessionHooks(h SessionHooks) ServerOption {
	return func(s *Server) { s.hooks = h }
}

// WithServerLogger sets the transport logger.
func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerMetrics records open sessions per transport and rate-limited requests.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithMaxMessageBytes bounds a single inbound frame or websocket message.
func WithMaxMessageBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

// WithRateLimit applies a token bucket per connection. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = rate.Limit(rps)
		s.rateBurst = burst
	}
}

// WithOriginPatterns lists the cross-origin hosts accepted by the websocket endpoint.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server serves a Registry over unix socket frames and websockets.
type Server struct {
	registry       *Registry
	hooks          SessionHooks
	logger         zerolog.Logger
	metrics        *Metrics
	maxMessage     int64
	rateLimit      rate.Limit
	rateBurst      int
	originPatterns []string
	pingInterval   time.Duration

	mu     sync.RWMutex
	ln     net.Listener
	closed bool
}

// NewServer constructs a server dispatching against registry.
func NewServer(registry *Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry:     registry,
		logger:       zerolog.Nop(),
		maxMessage:   DefaultMaxFrame,
		pingInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins accepting connections on the unix socket endpoint.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ctx, ln)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.handleConn(ctx, c)
	}
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	s.serve(ctx, &frameConn{conn: c, limit: s.maxMessage}, "unix")
}

// conn is one established bidirectional connection.
type conn interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, v any) error
	close() error
}

// frameWriteTimeout bounds a single frame write to a unix client.
const frameWriteTimeout = 10 * time.Second

type frameConn struct {
	conn  net.Conn
	limit int64
	mu    sync.Mutex
}

func (f *frameConn) read(ctx context.Context) ([]byte, error) {
	return readFrame(f.conn, f.limit)
}

func (f *frameConn) write(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline := time.Now().Add(frameWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := f.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return writeFrame(f.conn, payload)
}

func (f *frameConn) close() error {
	return f.conn.Close()
}

// serve runs the request loop of one connection until it fails or closes.
func (s *Server) serve(ctx context.Context, c conn, transport string) {
	ctx, cancel := context.WithCancel(ctx)
	session := NewSession(ctx, transport, c.write)
	log := s.logger.With().Str("session", session.ID).Str("transport", transport).Logger()
	log.Info().Msg("session opened")
	s.metrics.sessionOpened(transport)
	defer s.metrics.sessionClosed(transport)
	if s.hooks != nil {
		s.hooks.OpenSession(session)
		defer s.hooks.CloseSession(session)
	}
	// the connection is gone before CloseSession runs, so pending
	// notification writes fail instead of blocking it
	defer func() {
		cancel()
		c.close()
		log.Info().Msg("session closed")
	}()

	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
	}
	reqCtx := WithSession(ctx, session)
	for {
		payload, err := c.read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			// a type error still leaves the well-typed fields decoded
			rpcErr := Errorf(CodeInvalidRequest, "invalid request: %v", err)
			if !json.Valid(payload) {
				rpcErr = Errorf(CodeInvalidRequest, "invalid json")
			}
			log.Debug().Err(err).Str("method", req.Method).Msg("decode failed")
			resp := Response{Method: req.Method, ID: req.ID, Error: rpcErr, TraceID: NewID()}
			if err := c.write(ctx, resp); err != nil {
				return
			}
			continue
		}
		var resp Response
		if limiter != nil && !limiter.Allow() {
			method := req.Method
			if _, ok := s.registry.lookup(method); !ok {
				method = "unknown"
			}
			s.metrics.observe(method, string(CodeRateLimited), 0)
			log.Warn().Str("method", req.Method).Msg("rate limit exceeded")
			resp = Response{
				Method:  req.Method,
				ID:      req.ID,
				Error:   Errorf(CodeRateLimited, "rate limit exceeded"),
				TraceID: NewID(),
			}
		} else {
			resp = s.registry.Dispatch(reqCtx, req)
		}
		if err := c.write(ctx, resp); err != nil {
			log.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// Stop shuts down the unix listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
