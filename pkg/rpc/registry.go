package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry owns the method name to handler mapping and dispatches requests
// against it. There is no unregister operation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   zerolog.Logger
	metrics  *Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for per-request logging.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics records dispatch counts and latency.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers: make(map[string]HandlerFunc),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs handler under name, replacing any previous handler.
// An empty name or nil handler is a programming error and panics.
func (r *Registry) Register(name string, handler HandlerFunc) {
	if name == "" {
		panic("rpc: method name must not be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("rpc: nil handler for method %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Dispatch routes req to its handler and returns the envelope to send back.
// Method and Id always come from req, on success and on failure.
func (r *Registry) Dispatch(ctx context.Context, req Request) Response {
	started := time.Now()
	resp, known := r.invoke(ctx, req)
	resp.Method = req.Method
	resp.ID = req.ID
	resp.TraceID = NewID()

	code := "OK"
	if resp.Error != nil {
		resp.OK = false
		resp.Result = nil
		code = string(resp.Error.Code)
	} else {
		resp.OK = true
		if resp.Result == nil {
			resp.Result = json.RawMessage("null")
		}
	}

	elapsed := time.Since(started)
	label := req.Method
	if !known {
		label = "unknown"
	}
	r.metrics.observe(label, code, elapsed)

	ev := r.logger.Debug()
	if resp.Error != nil {
		ev = r.logger.Warn().Str("error", resp.Error.Message)
	}
	ev.Str("trace_id", resp.TraceID).
		Str("method", req.Method).
		RawJSON("rpc_id", rawOrNull(req.ID)).
		Str("code", code).
		Dur("latency", elapsed).
		Msg("rpc dispatch")
	return resp
}

func (r *Registry) invoke(ctx context.Context, req Request) (resp Response, known bool) {
	if req.Method == "" {
		return Response{Error: Errorf(CodeInvalidRequest, "method required")}, false
	}
	handler, ok := r.lookup(req.Method)
	if !ok {
		return Response{Error: Errorf(CodeNoSuchMethod, "No handler for method: %s", req.Method)}, false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("method", req.Method).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panic recovered")
			resp = Response{Error: Errorf(CodeInternal, "internal error")}
		}
	}()
	out, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return Response{Error: rpcErr}, true
	}
	if out == nil {
		return Response{}, true
	}
	return *out, true
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
