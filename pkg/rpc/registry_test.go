package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchStampsMethodAndID(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("echo", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		calls++
		return &Response{Method: "spoofed", ID: json.RawMessage(`"other"`), Result: params}, nil
	})

	resp := reg.Dispatch(context.Background(), Request{
		Method: "echo",
		ID:     json.RawMessage(`{"n":7}`),
		Params: json.RawMessage(`[1,2]`),
	})

	assert.Equal(t, 1, calls)
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "echo", resp.Method)
	assert.JSONEq(t, `{"n":7}`, string(resp.ID))
	assert.JSONEq(t, `[1,2]`, string(resp.Result))
	assert.NotEmpty(t, resp.TraceID)
}

func TestDispatchUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	invoked := false
	reg.Register("known", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		invoked = true
		return Result(nil)
	})

	resp := reg.Dispatch(context.Background(), Request{Method: "missing", ID: json.RawMessage(`3`)})

	assert.False(t, invoked)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNoSuchMethod, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "missing")
	assert.Equal(t, "missing", resp.Method)
	assert.Equal(t, "3", string(resp.ID))
	assert.Nil(t, resp.Result)
}

func TestRegisterReplacesHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		return Result("first")
	})
	reg.Register("m", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		return Result("second")
	})

	resp := reg.Dispatch(context.Background(), Request{Method: "m"})
	assert.JSONEq(t, `"second"`, string(resp.Result))
	assert.Equal(t, []string{"m"}, reg.Methods())
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() {
		reg.Register("", func(ctx context.Context, params json.RawMessage) (*Response, *Error) { return nil, nil })
	})
	assert.Panics(t, func() { reg.Register("nil", nil) })
	assert.Empty(t, reg.Methods())
}

func TestDispatchHandlerErrorsAndPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("reject", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		var p struct {
			Address string `json:"Address"`
		}
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return Result(p.Address)
	})
	reg.Register("boom", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		panic("kaboom")
	})
	reg.Register("empty", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		return nil, nil
	})

	t.Run("invalid params", func(t *testing.T) {
		resp := reg.Dispatch(context.Background(), Request{Method: "reject", ID: json.RawMessage(`1`), Params: json.RawMessage(`"nope"`)})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
		assert.Equal(t, "reject", resp.Method)
	})

	t.Run("missing params", func(t *testing.T) {
		resp := reg.Dispatch(context.Background(), Request{Method: "reject"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		resp := reg.Dispatch(context.Background(), Request{Method: "boom", ID: json.RawMessage(`"x"`)})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInternal, resp.Error.Code)
		assert.Equal(t, `"x"`, string(resp.ID))
	})

	t.Run("nil response is null result", func(t *testing.T) {
		resp := reg.Dispatch(context.Background(), Request{Method: "empty"})
		assert.True(t, resp.OK)
		assert.Equal(t, "null", string(resp.Result))
	})

	t.Run("empty method", func(t *testing.T) {
		resp := reg.Dispatch(context.Background(), Request{})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	})
}

func TestDispatchMetrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)
	reg := NewRegistry(WithMetrics(metrics))
	reg.Register("ok", func(ctx context.Context, params json.RawMessage) (*Response, *Error) {
		return Result(true)
	})

	reg.Dispatch(context.Background(), Request{Method: "ok"})
	reg.Dispatch(context.Background(), Request{Method: "ok"})
	reg.Dispatch(context.Background(), Request{Method: "nope-1"})
	reg.Dispatch(context.Background(), Request{Method: "nope-2"})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("ok", "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("unknown", string(CodeNoSuchMethod))))
}

func TestResponseWireShape(t *testing.T) {
	reg := NewRegistry()
	ok := reg.Dispatch(context.Background(), Request{Method: "absent", ID: json.RawMessage(`1`)})
	raw, err := json.Marshal(ok)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Contains(t, wire, "Error")
	assert.NotContains(t, wire, "Result")
	assert.JSONEq(t, `false`, string(wire["OK"]))
	assert.JSONEq(t, `"absent"`, string(wire["Method"]))
	assert.JSONEq(t, `1`, string(wire["Id"]))
}
