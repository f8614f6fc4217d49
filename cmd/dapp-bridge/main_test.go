package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/dappd/pkg/rpc"
)

func TestRelayRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "bridge")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.sock")

	reg := rpc.NewRegistry()
	reg.Register("echo", func(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
		return &rpc.Response{OK: true, Result: params}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := rpc.NewServer(reg)
	require.NoError(t, srv.Start(ctx, socket))
	defer srv.Stop()

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer conn.Close()

	in := strings.NewReader(`{"Method":"echo","Id":1,"Params":{"x":1}}` + "\n\nnot json\n" +
		`{"Method":"echo","Id":2,"Params":[]}` + "\n")
	var out bytes.Buffer
	err = relay(ctx, in, &out, conn, zerolog.Nop())
	assert.ErrorIs(t, err, io.EOF)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first, second rpc.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "1", string(first.ID))
	assert.JSONEq(t, `{"x":1}`, string(first.Result))
	assert.Equal(t, "2", string(second.ID))
}
