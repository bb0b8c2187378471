// Loadguard - Velocity-limit adjudication for customer fund loads.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/loadguard/internal/api"
	"github.com/opensource-finance/loadguard/internal/bus"
	"github.com/opensource-finance/loadguard/internal/cache"
	"github.com/opensource-finance/loadguard/internal/config"
	"github.com/opensource-finance/loadguard/internal/domain"
	"github.com/opensource-finance/loadguard/internal/metrics"
	"github.com/opensource-finance/loadguard/internal/repository"
	"github.com/opensource-finance/loadguard/internal/session"
	"github.com/opensource-finance/loadguard/internal/velocity"
	"github.com/opensource-finance/loadguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration: LOADGUARD_CONFIG file (optional) + LOADGUARD_* env
	loader, err := config.NewLoader(os.Getenv("LOADGUARD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting loadguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"path", loader.Path(),
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize adjudication session
	limits, err := cfg.Limits.ToLimits()
	if err != nil {
		slog.Error("invalid limits", "error", err)
		os.Exit(1)
	}
	sess, err := session.New(limits, cfg.Watches)
	if err != nil {
		slog.Error("failed to initialize session", "error", err)
		os.Exit(1)
	}
	slog.Info("session initialized",
		"daily_limit", limits.DailyLimit.StringFixed(2),
		"weekly_limit", limits.WeeklyLimit.StringFixed(2),
		"watches", len(cfg.Watches),
	)

	// Rebuild rule state from stored outputs
	velocitySvc := velocity.NewService(repo)
	if cfg.RestoreOnStart {
		if _, err := velocitySvc.Restore(ctx, sess); err != nil {
			slog.Error("failed to restore velocity state", "error", err)
			os.Exit(1)
		}
	}

	// Hot-reload limits and watches from the config file
	loader.OnChange(func(next *domain.Config) {
		l, err := next.Limits.ToLimits()
		if err != nil {
			slog.Warn("ignoring reloaded limits", "error", err)
			return
		}
		if err := sess.ReconfigureAll(l, next.Watches); err != nil {
			slog.Warn("ignoring reloaded watches", "error", err)
			return
		}
		metrics.ConfigReloads.WithLabelValues("file").Inc()
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
		stopWatch = func() {}
	}
	defer stopWatch()

	// Initialize async Worker
	asyncWorker := worker.NewWorker(busImpl, repo, sess)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	handler := api.NewHandler(sess, velocitySvc, repo, cacheImpl, busImpl, Version, cfg.Server.MaxUploadBytes)
	srv := api.NewServer(cfg.Server, handler)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("loadguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("loadguard shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("LOADGUARD_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |               LOADGUARD                   |")
	fmt.Println("  |     Fund Load Velocity Adjudication       |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/process                 - Adjudicate a file, returns results.zip")
	fmt.Println("    GET  /api/v1/process/{id}/archive    - Download a previous result archive")
	fmt.Println("    POST /api/v1/loads                   - Adjudicate one load (?async=true to queue)")
	fmt.Println("    GET  /api/v1/config                  - Current limits")
	fmt.Println("    POST /api/v1/config                  - Replace limits")
	fmt.Println("    POST /api/v1/config/reset            - Restore default limits")
	fmt.Println("    GET  /api/v1/statistics              - Totals and engine state")
	fmt.Println("    GET  /api/v1/dashboard-stats         - Dashboard aggregates")
	fmt.Println("    GET  /api/v1/outputs                 - Stored runs")
	fmt.Println("    GET  /api/v1/customers/{id}/velocity - Customer velocity for a date")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println("    GET  /metrics                        - Prometheus metrics")
	fmt.Println()
}
