package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/config"
	"github.com/rexliu/dappd/pkg/logging"
	"github.com/rexliu/dappd/pkg/rpc"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Profile directory")
	socket := flag.String("socket", "", "Override socket path")
	flag.Parse()

	// stdout carries messages, logs go to stderr
	logger := logging.NewWriter(os.Stderr, "dapp-bridge")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	socketPath := *socket
	if socketPath == "" {
		cfg, err := config.LoadProfile(*profile)
		if err != nil {
			logger.Error().Err(err).Msg("load config")
			os.Exit(1)
		}
		socketPath = config.ResolvePath(*profile, cfg.Server.SocketPath)
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		logger.Error().Err(err).Str("socket", socketPath).Msg("dial daemon")
		os.Exit(1)
	}
	defer conn.Close()

	if err := relay(ctx, os.Stdin, os.Stdout, conn, logger); err != nil && !errors.Is(err, io.EOF) {
		logger.Error().Err(err).Msg("bridge exiting")
		os.Exit(1)
	}
}

// relay forwards newline-delimited JSON from in to the daemon as frames and
// writes every frame received from the daemon to out as one line. When in
// is exhausted the write side is closed and relay returns once the daemon
// hangs up.
func relay(ctx context.Context, in io.Reader, out io.Writer, conn net.Conn, logger zerolog.Logger) error {
	errCh := make(chan error, 2)
	go func() {
		if err := pump(in, conn, logger); err != nil {
			errCh <- err
			return
		}
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}()
	go func() {
		writer := bufio.NewWriter(out)
		for {
			frame, err := rpc.ReadFrame(conn)
			if err != nil {
				errCh <- err
				return
			}
			writer.Write(frame)
			writer.WriteByte('\n')
			if err := writer.Flush(); err != nil {
				errCh <- err
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func pump(in io.Reader, conn net.Conn, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), rpc.DefaultMaxFrame)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			logger.Warn().Int("bytes", len(line)).Msg("invalid message skipped")
			continue
		}
		if err := rpc.WriteFrame(conn, line); err != nil {
			return errors.Wrap(err, "write frame")
		}
	}
	return scanner.Err()
}
