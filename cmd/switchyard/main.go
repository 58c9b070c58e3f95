// Switchyard gateway server — admits, budgets, routes, and dispatches
// agent requests, runs workflow executions, and serves the operations API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/api"
	"github.com/switchyard-ai/switchyard/pkg/backend"
	"github.com/switchyard-ai/switchyard/pkg/breaker"
	"github.com/switchyard-ai/switchyard/pkg/budget"
	"github.com/switchyard-ai/switchyard/pkg/cleanup"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/dispatch"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/heartbeat"
	"github.com/switchyard-ai/switchyard/pkg/invoker"
	"github.com/switchyard-ai/switchyard/pkg/ledger"
	"github.com/switchyard-ai/switchyard/pkg/quota"
	"github.com/switchyard-ai/switchyard/pkg/retry"
	"github.com/switchyard-ai/switchyard/pkg/router"
	"github.com/switchyard-ai/switchyard/pkg/session"
	"github.com/switchyard-ai/switchyard/pkg/slack"
	"github.com/switchyard-ai/switchyard/pkg/version"
	"github.com/switchyard-ai/switchyard/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// 1. Flags and environment
	configPath := flag.String("config",
		getEnv("SWITCHYARD_CONFIG", "config/switchyard.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	// 2. Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting switchyard",
		"version", version.Full(),
		"config", *configPath)

	// 3. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"agents", stats.Agents,
		"models", stats.Models,
		"projects", stats.Projects)

	// 4. Durable stores — cost ledger and alert log replay their files,
	// the session store opens SQLite.
	led, err := ledger.Open(cfg.Storage.CostLogPath(), cfg.Storage.FsyncEach, logger)
	if err != nil {
		slog.Error("Failed to open cost ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := led.Close(); err != nil {
			slog.Error("Error closing cost ledger", "error", err)
		}
	}()

	alerts, err := alert.Open(cfg.Storage.AlertLogPath(), logger)
	if err != nil {
		slog.Error("Failed to open alert log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := alerts.Close(); err != nil {
			slog.Error("Error closing alert log", "error", err)
		}
	}()

	ctx := context.Background()
	sessions, err := session.Open(ctx, cfg.Storage.SessionDBPath(), logger)
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			slog.Error("Error closing session store", "error", err)
		}
	}()

	// 5. Backends — one client per configured model.
	backends, err := backend.NewRegistry(cfg.Models, logger)
	if err != nil {
		slog.Error("Failed to build backends", "error", err)
		os.Exit(1)
	}

	// 6. Gateway components, dependency order: ledger is already up, then
	// breaker, heartbeat, gates, router, invoker, workflow engine,
	// dispatcher last.
	bus := events.NewBus(logger)
	notifier := slack.NewService(cfg.Slack, bus, logger)

	brk := breaker.New(cfg.Breaker, bus, alerts, logger)
	retrier := retry.New(cfg.Retry, logger)

	monitor := heartbeat.NewMonitor(cfg.Heartbeat, bus, alerts, logger)
	monitor.Start()

	budgetGate := budget.NewGate(cfg.Budget, cfg.Models, cfg.Projects, led, bus, alerts, logger)
	quotaGate := quota.NewGate(cfg.Quota, cfg.Projects, logger)

	rtr := router.New(cfg.Router, cfg.Agents, cfg.Models, sessions, dispatch.Availability(brk), logger)
	inv := invoker.New(cfg.Agents, cfg.Models, backends, brk, retrier, monitor, led, logger)

	defs, err := workflow.LoadDefinitions(cfg.Workflow.Dir, logger)
	if err != nil {
		slog.Error("Failed to load workflow definitions", "error", err)
		os.Exit(1)
	}
	wfStore, err := workflow.NewStore(cfg.Storage.ExecutionsDir(), cfg.Storage.FsyncEach, logger)
	if err != nil {
		slog.Error("Failed to open workflow store", "error", err)
		os.Exit(1)
	}
	taskCaller := dispatch.NewTaskCaller(budgetGate, cfg.Agents, inv, logger)
	engine := workflow.NewEngine(cfg.Workflow, defs, wfStore, taskCaller, bus, logger)

	// 7. Mark executions a previous process left behind — before the API
	// can accept traffic that would race the same files.
	if err := engine.RecoverInterrupted(); err != nil {
		slog.Error("Failed to recover interrupted executions", "error", err)
		os.Exit(1)
	}
	if recovered := engine.ListRecovered(); len(recovered) > 0 {
		slog.Warn("Marked interrupted executions as failed", "executions", recovered)
	}

	sweeper := cleanup.NewService(cfg.Retention, wfStore, sessions, logger)
	sweeper.Start(ctx)

	dispatcher := dispatch.New(quotaGate, budgetGate, rtr, inv, engine, sessions, cfg.Agents, bus, logger)

	// 8. HTTP server
	srv := api.NewServer(cfg.Server, cfg.Storage, api.Deps{
		Dispatcher: dispatcher,
		Engine:     engine,
		Breaker:    brk,
		Router:     rtr,
		Quota:      quotaGate,
		Budget:     budgetGate,
		Ledger:     led,
		Alerts:     alerts,
		Monitor:    monitor,
		Bus:        bus,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Switchyard started",
		"addr", cfg.Server.Addr,
		"workflows", len(defs))

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown, reverse order: stop accepting requests, drain
	// workflows, then stop the background goroutines. Store closes run as
	// deferred functions after this.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	engine.Stop()
	sweeper.Stop()
	monitor.Stop()
	notifier.Stop()
	bus.Stop()

	slog.Info("Shutdown complete")
}

// logLevel reads SWITCHYARD_LOG_LEVEL; anything unrecognized means info.
func logLevel() slog.Level {
	switch getEnv("SWITCHYARD_LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
