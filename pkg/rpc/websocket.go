package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ServeHTTP upgrades the request to a websocket and serves it like any other
// connection: one JSON request per text message, responses and notifications
// written back as text messages.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(s.maxMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pingLoop(ctx, c, cancel)

	s.serve(ctx, &wsConn{conn: c}, "websocket")
}

func (s *Server) pingLoop(ctx context.Context, c *websocket.Conn, cancel context.CancelFunc) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, done := context.WithTimeout(ctx, s.pingInterval)
			err := c.Ping(pingCtx)
			done()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Msg("websocket ping error")
				}
				cancel()
				return
			}
		}
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			// ignore non-text messages
			continue
		}
		return data, nil
	}
}

func (w *wsConn) write(ctx context.Context, v any) error {
	return wsjson.Write(ctx, w.conn, v)
}

func (w *wsConn) close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
