package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// NotifyFunc receives server pushed notifications.
type NotifyFunc func(event string, params json.RawMessage)

// envelope decodes any frame the server may send.
type envelope struct {
	Method  string          `json:"Method"`
	ID      json.RawMessage `json:"Id"`
	OK      bool            `json:"OK"`
	Result  json.RawMessage `json:"Result"`
	Error   *Error          `json:"Error"`
	TraceID string          `json:"TraceId"`
	Event   string          `json:"Event"`
	Params  json.RawMessage `json:"Params"`
}

// Client talks to the daemon over the unix socket. Calls are serialised.
type Client struct {
	conn     net.Conn
	mu       sync.Mutex
	onNotify NotifyFunc
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", path)
	}
	return &Client{conn: conn}, nil
}

// OnNotify installs the handler for notifications received on the connection.
func (c *Client) OnNotify(fn NotifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = fn
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends method with params and decodes the result into out (if non-nil).
// Notifications arriving before the response are passed to the notify handler.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return err
	}
	req := Request{Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "encode params")
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return errors.Wrap(err, "write request")
	}
	for {
		env, err := c.next()
		if err != nil {
			return err
		}
		if env.Event != "" {
			if c.onNotify != nil {
				c.onNotify(env.Event, env.Params)
			}
			continue
		}
		if string(env.ID) != string(id) {
			continue
		}
		if env.Error != nil {
			return env.Error
		}
		if out != nil {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return errors.Wrap(err, "decode result")
			}
		}
		return nil
	}
}

// Listen delivers notifications until ctx is cancelled or the connection fails.
func (c *Client) Listen(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		env, err := c.next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.mu.Lock()
		fn := c.onNotify
		c.mu.Unlock()
		if env.Event != "" && fn != nil {
			fn(env.Event, env.Params)
		}
	}
}

func (c *Client) next() (envelope, error) {
	var env envelope
	frame, err := readFrame(c.conn, 0)
	if err != nil {
		return env, errors.Wrap(err, "read frame")
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, errors.Wrap(err, "decode frame")
	}
	return env, nil
}
