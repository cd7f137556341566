package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lclpedro/hyperhook/config"
	"github.com/lclpedro/hyperhook/internal/adapters/httpapi"
	"github.com/lclpedro/hyperhook/internal/adapters/logger"
	"github.com/lclpedro/hyperhook/internal/bootstrap"
	"github.com/lclpedro/hyperhook/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	defer appLogger.Close()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel, "file": cfg.LogFile})

	// 3. Wire repository, exchange and services
	components, err := bootstrap.Build(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize application")
		log.Fatalf("FATAL: Failed to initialize application: %v", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Scheduler
	sched := scheduler.New(appLogger)
	if cfg.SnapshotSchedule != "" {
		job := scheduler.NewSnapshotJob(components.Snapshots, time.Minute, appLogger)
		if err := sched.AddJob(cfg.SnapshotSchedule, job); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to schedule snapshots")
			log.Fatalf("FATAL: Failed to schedule snapshots: %v", err)
		}
	}
	sched.Start()

	// 5. HTTP server
	server := httpapi.New(httpapi.Config{
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		Ledger:      components.Ledger,
		Signals:     components.Signals,
		Snapshots:   components.Snapshots,
		Configs:     components.Repo,
		Checks:      map[string]httpapi.Pinger{"database": components.Repo},
		Metrics:     components.Metrics,
		Logger:      appLogger,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			appLogger.Error(ctx, err, "HTTP server exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "HTTP server shutdown failed")
	}
	sched.Stop()

	appLogger.Info(ctx, "Application finished gracefully.")
}
