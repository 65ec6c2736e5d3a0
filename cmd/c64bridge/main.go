// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrisgleissner/c64bridge/internal/api"
	"github.com/chrisgleissner/c64bridge/internal/config"
	"github.com/chrisgleissner/c64bridge/internal/connection"
	"github.com/chrisgleissner/c64bridge/internal/diagnostics"
	xlog "github.com/chrisgleissner/c64bridge/internal/log"
	"github.com/chrisgleissner/c64bridge/internal/mockdev"
	"github.com/chrisgleissner/c64bridge/internal/trace"
)

var (
	version   = "0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xlog.Configure(xlog.Config{
		Level:   "info",
		Service: "c64bridge",
		Version: version,
	})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "c64bridge",
		Version: version,
	})

	if *configPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", *configPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Listen).
		Msg("starting c64bridge")

	if cfg.Device.Host != "" {
		logger.Info().Msgf("→ Device: %s (auth: %v)", cfg.Device.BaseURL(), cfg.Device.Password != "")
	} else {
		logger.Info().Msg("→ Device: not configured")
	}
	logger.Info().Msgf("→ Demo backend: enabled=%v force=%v", cfg.Demo.Enabled, cfg.Demo.Force)
	if cfg.Demo.ExternalMockURL != "" {
		logger.Info().Msgf("→ External mock: %s", cfg.Demo.ExternalMockURL)
	}
	logger.Info().Msgf("→ Trace ring: %d events", cfg.Trace.Capacity)

	rec := trace.NewRecorder(trace.WithCapacity(cfg.Trace.Capacity))

	manager := connection.NewManager(connection.Config{
		RealBaseURL:            cfg.Device.BaseURL(),
		Password:               cfg.Device.Password,
		ProbeTimeout:           cfg.Discovery.ProbeTimeout,
		ProbeInterval:          cfg.Discovery.ProbeInterval,
		MaxConsecutiveFailures: cfg.Discovery.MaxConsecutiveFailures,
		MaxUnreachable:         cfg.Discovery.MaxUnreachable,
		CacheWindow:            cfg.Discovery.CacheWindow,
		DemoEnabled:            cfg.Demo.Enabled,
		ForceDemo:              cfg.Demo.Force,
		ExternalMockURL:        cfg.Demo.ExternalMockURL,
	}, mockdev.New(), connection.WithRecorder(rec))
	manager.Start()

	checker := diagnostics.NewDeviceChecker(cfg.Device.BaseURL(), cfg.Device.Password)
	server := api.NewServer(cfg, manager, rec, checker, version)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "http.listening").
			Str("addr", cfg.Listen).
			Msg("HTTP server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().
			Str("event", "shutdown.signal").
			Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().
				Err(err).
				Str("event", "http.serve_failed").
				Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "http.shutdown_failed").
			Msg("HTTP server shutdown did not complete cleanly")
	}
	manager.Stop(shutdownCtx)

	logger.Info().
		Str("event", "shutdown.complete").
		Msg("c64bridge stopped")
}
