// Kestrel - Freight invoice auditing that deploys in 60 seconds.
// Copyright (c) 2025 opensource.logistics
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-logistics/kestrel/internal/api"
	"github.com/opensource-logistics/kestrel/internal/bus"
	"github.com/opensource-logistics/kestrel/internal/cache"
	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/metrics"
	"github.com/opensource-logistics/kestrel/internal/repository"
	"github.com/opensource-logistics/kestrel/internal/rules"
	"github.com/opensource-logistics/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if path := os.Getenv("KESTREL_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	slog.Info("configuration loaded",
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

	// Initialize Audit Engine with the fixed rule set
	engine := rules.NewEngine(repo, cfg.Audit, logger)
	slog.Info("audit engine initialized",
		"weight_tolerance", cfg.Audit.WeightTolerance,
		"late_threshold_days", cfg.Audit.LateThresholdDays,
		"rate_threshold", cfg.Audit.RateThreshold,
		"auto_dispute", cfg.Audit.AutoDispute,
	)

	// Initialize Metrics Service
	metricsSvc := metrics.NewService(repo, cacheImpl, logger)
	slog.Info("metrics service initialized")

	// Initialize async Worker. It consumes audit.requested events, so it
	// runs in every tier - the batch endpoint's async mode depends on it.
	asyncWorker := worker.NewWorker(busImpl, engine, logger)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}
	slog.Info("async worker started")

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, metricsSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
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

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                 ║")
	fmt.Println("  ║      Freight Invoice Audit Engine        ║")
	fmt.Println("  ║      Every invoice earns its keep.       ║")
	fmt.Println("  ╚═════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /audits/{shipmentID}  - Audit one shipment")
	fmt.Println("    POST /audits/batch         - Audit a batch (sync or async)")
	fmt.Println("    GET  /shipments/{id}       - Get shipment with lane and invoice")
	fmt.Println("    GET  /exceptions           - List audit exceptions")
	fmt.Println("    GET  /metrics              - Window KPIs")
	fmt.Println("    GET  /dashboard            - Full dashboard payload")
	fmt.Println("    GET  /summaries            - Daily summaries")
	fmt.Println("    POST /summaries/recompute  - Rebuild daily summaries")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
