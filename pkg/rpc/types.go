package rpc

import (
	"context"
	"encoding/json"
)

// HandlerFunc processes the params of one request. It returns a success
// envelope or a structured error; Method and Id on the envelope are owned by
// the dispatcher and overwritten.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (*Response, *Error)

// Request is an inbound call. Id is kept as raw JSON so it is echoed verbatim.
type Request struct {
	Method string          `json:"Method"`
	ID     json.RawMessage `json:"Id,omitempty"`
	Params json.RawMessage `json:"Params,omitempty"`
}

// Response is the outbound envelope. OK discriminates success (Result set)
// from failure (Error set).
type Response struct {
	Method  string          `json:"Method"`
	ID      json.RawMessage `json:"Id,omitempty"`
	OK      bool            `json:"OK"`
	Result  json.RawMessage `json:"Result,omitempty"`
	Error   *Error          `json:"Error,omitempty"`
	TraceID string          `json:"TraceId,omitempty"`
}

// Notification is pushed by the server without a preceding request.
type Notification struct {
	Event  string `json:"Event"`
	Params any    `json:"Params,omitempty"`
}

// Result marshals v into a success envelope for a handler to return.
func Result(v any) (*Response, *Error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, Errorf(CodeInternal, "encode result: %v", err)
	}
	return &Response{OK: true, Result: raw}, nil
}

// DecodeParams unmarshals params into v, mapping failures to InvalidParams.
func DecodeParams(params json.RawMessage, v any) *Error {
	if len(params) == 0 {
		return Errorf(CodeInvalidParams, "params required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return Errorf(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
