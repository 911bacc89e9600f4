// Kestrel - Merchant troubleshooting that deploys in 60 seconds.
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/ai"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/summary"
	"github.com/opensource-finance/kestrel/internal/worker"
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

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ai_demo_mode", cfg.AI.DemoMode,
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

	// Initialize Watch Rule Engine
	watchEngine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize watch rule engine", "error", err)
		os.Exit(1)
	}
	defer watchEngine.Close()

	// Load watch rules from database (no hardcoded defaults - configure via API)
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))
	if err := loadWatchRulesFromDatabase(ctx, repo, watchEngine, tenantIDs); err != nil {
		slog.Error("failed to load watch rules", "error", err)
		os.Exit(1)
	}
	slog.Info("watch rule engine initialized", "rules_count", watchEngine.RulesCount())

	// Initialize AI Gateway
	gateway := ai.NewGateway(cfg.AI, logger)
	slog.Info("ai gateway initialized",
		"provider", cfg.AI.Provider,
		"enabled", gateway.Enabled(),
	)

	// Initialize Troubleshooting Engine
	eng := engine.New(engine.Options{
		Repository: repo,
		Watch:      watchEngine,
		AI:         gateway,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Policy:     cfg.Policy,
		InsightTTL: cfg.Cache.InsightTTL,
		DemoMode:   cfg.AI.DemoMode,
		Logger:     logger,
	})
	slog.Info("troubleshooting engine initialized", "alert_threshold", eng.AlertThreshold())

	// Initialize Summary Service
	summarySvc := summary.NewService(repo, eng, cacheImpl, time.Minute, logger)

	// Initialize async scan Worker (Pro tier)
	var scanWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		scanWorker = worker.NewWorker(busImpl, eng)

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := scanWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start scan worker", "error", err)
		} else {
			slog.Info("scan worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, eng, summarySvc, watchEngine, repo, cacheImpl, Version)

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

	// Stop scan worker first
	if scanWorker != nil {
		if err := scanWorker.Stop(); err != nil {
			slog.Error("failed to stop scan worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides layers environment settings over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if port := os.Getenv("KESTREL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if path := os.Getenv("KESTREL_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	if key := os.Getenv("KESTREL_AI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
		cfg.AI.DemoMode = false
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
		cfg.AI.DemoMode = false
	}
	if os.Getenv("KESTREL_DEMO_MODE") == "true" {
		cfg.AI.DemoMode = true
	}
	if base := os.Getenv("KESTREL_AI_BASE_URL"); base != "" {
		cfg.AI.BaseURL = base
	}
	if model := os.Getenv("KESTREL_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
}

func parseTenants(env string) []string {
	if env == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// loadWatchRulesFromDatabase loads persisted watch rules into the engine.
// All rules must be configured via POST /api/v1/watch-rules - no hardcoded defaults.
func loadWatchRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine, tenantIDs []string) error {
	total := 0
	for _, tenantID := range tenantIDs {
		dbRules, err := repo.ListWatchRules(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list watch rules from database", "tenant_id", tenantID, "error", err)
			continue // Start with empty rules - they can be added via API
		}
		if len(dbRules) == 0 {
			continue
		}
		if err := engine.LoadRules(dbRules); err != nil {
			return err
		}
		total += len(dbRules)
	}

	if total == 0 {
		slog.Info("no watch rules in database - configure via POST /api/v1/watch-rules")
	} else {
		slog.Info("loaded watch rules from database", "count", total)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Merchant Troubleshooting Engine        ║")
	fmt.Println("  ║      Eyes on every merchant.              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/snapshots                        - Ingest a merchant snapshot")
	fmt.Println("    GET  /api/v1/merchants                        - List merchants")
	fmt.Println("    GET  /api/v1/merchants/{id}/report            - Troubleshooting report")
	fmt.Println("    GET  /api/v1/merchants/{id}/insight           - AI insight (with fallback)")
	fmt.Println("    GET  /api/v1/merchants/{id}/monthly           - Monthly trend comparison")
	fmt.Println("    POST /api/v1/merchants/{id}/location/resolve  - Resolve missing location")
	fmt.Println("    GET  /api/v1/dashboard/summary                - Tenant dashboard summary")
	fmt.Println("    GET  /api/v1/ai/status                        - AI backend status")
	fmt.Println("    GET  /api/v1/watch-rules                      - List watch rules")
	fmt.Println("    POST /api/v1/watch-rules                      - Create a watch rule")
	fmt.Println("    POST /api/v1/watch-rules/reload               - Hot-reload watch rules")
	fmt.Println("    GET  /health                                  - Health check")
	fmt.Println()
}
