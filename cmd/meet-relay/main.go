package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/openmeet/meet-relay/internal/config"
	"github.com/openmeet/meet-relay/internal/httpserver"
	"github.com/openmeet/meet-relay/internal/meeting"
	"github.com/openmeet/meet-relay/internal/metrics"
	"github.com/openmeet/meet-relay/internal/signaling"
	"github.com/openmeet/meet-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildVersion = ""
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting meet-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"static_dir", cfg.StaticDir,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_signaling_message_bytes", cfg.MaxMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure turn rest credentials", "err", err)
			os.Exit(2)
		}
	}

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	registry := meeting.NewRegistry(logger)
	counters := metrics.New()

	srv := httpserver.New(cfg, logger, resolveBuildInfo(), registry, turn)

	sig := signaling.NewServer(signaling.Config{
		Registry:             registry,
		Logger:               logger,
		Metrics:              counters,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(counters))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo() httpserver.BuildInfo {
	info := httpserver.BuildInfo{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	}

	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}
