package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/uiwire/internal/config"
	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/protocol"
	"github.com/vango-dev/uiwire/pkg/server"
	"github.com/vango-dev/uiwire/pkg/socket"
	"github.com/vango-dev/uiwire/pkg/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		addr   string
		echo   bool
		record bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept uiwire connections",
		Long: `Start a uiwire endpoint.

Every inbound frame is logged at debug level. With --echo each frame
is sent back to its connection unchanged, which is enough to exercise
a client against a live server.

Endpoints:
  • server.path         WebSocket upgrade (default /ws)
  • server.metricsPath  Prometheus metrics (default /metrics)
  • /healthz            liveness and connection count

Examples:
  uiwire serve
  uiwire serve --addr=127.0.0.1:9000 --echo
  uiwire serve --capture --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if record {
				cfg.Capture.Enabled = true
			}
			return runServe(cmd.Context(), cfg, echo)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from uiwire.json)")
	cmd.Flags().BoolVarP(&echo, "echo", "e", false, "Send every inbound frame back to its sender")
	cmd.Flags().BoolVar(&record, "capture", false, "Record every connection to the capture store")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, echo bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	dict, err := cfg.BuildDictionary()
	if err != nil {
		return err
	}
	sc, err := cfg.ServerConfig()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithRegistry(registry, telemetry.WithNamespace(cfg.Telemetry.Namespace)),
	}
	if cfg.Telemetry.Tracing {
		opts = append(opts, server.WithTracer(telemetry.NewTracer()))
	}

	srv, err := server.New(dict, frameHandler(dict, echo, logger), sc, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if sc.Capture != nil {
		go cleanupLoop(ctx, sc.Capture, time.Duration(cfg.Capture.Retention), logger)
		logger.Info("capture enabled", "backend", cfg.Capture.Backend)
	}

	logger.Info("dictionary loaded", "tags", len(dict.Tags()))
	return srv.Run(ctx)
}

// frameHandler logs inbound frames and optionally echoes them.
func frameHandler(dict *protocol.Dictionary, echo bool, logger *slog.Logger) socket.Handler {
	return socket.HandlerFunc(func(ctx context.Context, c *socket.Conn, f *protocol.Frame) error {
		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("frame",
				"conn_id", c.ID,
				"size", f.Size,
				"units", describeUnits(dict, f.Units))
		}
		if !echo {
			return nil
		}
		return c.SendNow(func(e *protocol.Encoder) error {
			return protocol.EncodeFrameTo(e, f.Units...)
		})
	})
}

// cleanupLoop expires captures older than retention until ctx is done.
func cleanupLoop(ctx context.Context, store capture.Store, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	interval := min(max(retention/4, time.Minute), time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := store.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
			logger.Warn("capture cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
