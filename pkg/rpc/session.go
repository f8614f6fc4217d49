package rpc

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// NewID generates a ULID string used for session and trace ids.
func NewID() string {
	return ulid.Make().String()
}

// Session is the per-connection state handed to handlers through the context.
type Session struct {
	ID        string
	Transport string

	ctx    context.Context
	notify func(context.Context, any) error
}

// NewSession builds a session whose notifications are written with notify.
// ctx bounds the lifetime of the underlying connection.
func NewSession(ctx context.Context, transport string, notify func(context.Context, any) error) *Session {
	return &Session{
		ID:        NewID(),
		Transport: transport,
		ctx:       ctx,
		notify:    notify,
	}
}

// Notify pushes an event to the connection that owns the session.
func (s *Session) Notify(event string, params any) error {
	if s == nil || s.notify == nil {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.notify(s.ctx, Notification{Event: event, Params: params})
}

// Done is closed when the owning connection goes away.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// SessionHooks observe connection lifecycle.
type SessionHooks interface {
	OpenSession(*Session)
	CloseSession(*Session)
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session of the connection serving ctx.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
