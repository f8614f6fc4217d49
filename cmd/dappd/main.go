package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/config"
	"github.com/rexliu/dappd/pkg/logging"
	"github.com/rexliu/dappd/pkg/rpc"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	listen := flag.String("listen", "", "Override websocket listen address (optional)")
	flag.Parse()

	logger := logging.New("dappd")
	logger.Info().Str("profile", *profile).Msg("starting daemon")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, *listen, logger); err != nil {
		logger.Error().Err(err).Msg("fatal error")
		os.Exit(1)
	}
}

func loadProfile(profileDir string, logger zerolog.Logger) (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profileDir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("profile", profileDir).Msg("no config.toml, using defaults")
		return config.DefaultProfile("dev"), nil
	}
	return cfg, err
}

func run(ctx context.Context, profileDir, socketOverride, listenOverride string, logger zerolog.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	cfg, err := loadProfile(profileDir, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Logging.FilePath = config.ResolvePath(profileDir, cfg.Logging.FilePath)
	logger, err = logging.Configure(logger, cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := rpc.NewMetrics(promReg)

	d, err := openDaemon(ctx, profileDir, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	registry := rpc.NewRegistry(rpc.WithLogger(logger), rpc.WithMetrics(metrics))
	d.api.Register(registry)

	srv := rpc.NewServer(registry,
		rpc.WithSessionHooks(d.api),
		rpc.WithServerLogger(logger),
		rpc.WithServerMetrics(metrics),
		rpc.WithMaxMessageBytes(cfg.Server.MaxMessageBytes),
		rpc.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		rpc.WithOriginPatterns(cfg.Server.OriginPatterns...),
	)

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.Server.SocketPath)
	}
	if socketPath != "" {
		if err := cleanupSocket(socketPath); err != nil {
			return err
		}
		if err := srv.Start(ctx, socketPath); err != nil {
			return fmt.Errorf("start ipc: %w", err)
		}
		defer func() {
			srv.Stop()
			cleanupSocket(socketPath)
		}()
		logger.Info().Str("socket", socketPath).Msg("ipc ready")
	}

	listenAddr := listenOverride
	if listenAddr == "" {
		listenAddr = cfg.Server.ListenAddr
	}
	errCh := make(chan error, 1)
	var httpSrv *http.Server
	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Server.WebSocketPath, srv)
		if cfg.Server.MetricsPath != "" {
			mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		}
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		httpSrv = &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info().Str("addr", listenAddr).Str("path", cfg.Server.WebSocketPath).Msg("websocket ready")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info().Msg("shutting down")
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}
	return runErr
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
