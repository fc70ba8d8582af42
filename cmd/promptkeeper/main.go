// Package main is the entry point for the promptkeeper gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"promptkeeper/config"
	"promptkeeper/internal/history"
	"promptkeeper/internal/observability"
	"promptkeeper/internal/provider/openaicompat"
	"promptkeeper/internal/search"
	"promptkeeper/internal/server"
	"promptkeeper/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	var handler slog.Handler
	if cfg.Log.Format == "pretty" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting promptkeeper",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	// Security check: warn if no API key is configured
	if cfg.Server.APIKey == "" {
		slog.Warn("SECURITY WARNING: API_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set the API_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "api_key")
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	// Upstream provider
	provider := openaicompat.New(openaicompat.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
	})

	// History recording
	historyResult, err := history.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize history", "error", err)
		os.Exit(1)
	}
	defer historyResult.Close()

	if cfg.History.Enabled {
		slog.Info("history recording enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.History.BufferSize,
			"flush_interval", cfg.History.FlushInterval,
		)
	} else {
		slog.Info("history recording disabled")
	}

	if metrics != nil {
		if r, ok := historyResult.Recorder.(*history.Recorder); ok {
			r.SetDropHandler(metrics.ExchangesDropped.Inc)
		}
	}

	// Search is only available when there is history to search
	var engine *search.Engine
	if historyResult.Reader != nil {
		engine = search.NewEngine(historyResult.Reader)
	}

	// Create and start server
	serverCfg := &server.Config{
		APIKey:          cfg.Server.APIKey,
		AvailableModels: cfg.Server.AvailableModels,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	}
	srv := server.New(provider, historyResult.Recorder, engine, metrics, serverCfg)

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}
