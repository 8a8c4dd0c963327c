package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httpAdapter "github.com/fetchbay/fetchd/internal/adapter/http"
	"github.com/fetchbay/fetchd/internal/adapter/sqlite"
	"github.com/fetchbay/fetchd/internal/config"
	"github.com/fetchbay/fetchd/internal/domain"
	"github.com/fetchbay/fetchd/internal/gate"
	"github.com/fetchbay/fetchd/internal/logging"
	"github.com/fetchbay/fetchd/internal/metrics"
	"github.com/fetchbay/fetchd/internal/script"
	"github.com/fetchbay/fetchd/internal/tool"
	"github.com/fetchbay/fetchd/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	metrics.Init()

	logger.Info("starting fetchd",
		zap.Int("port", cfg.Port),
		zap.String("db", cfg.DBPath),
		zap.String("scripts_dir", cfg.ScriptsDir),
		zap.String("download_dir", cfg.DownloadDir),
	)

	// Storage unavailability is fatal: scheduling correctness depends
	// on durable state.
	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("initialize database", zap.Error(err))
	}
	defer repo.Close()

	registry := script.NewRegistry(cfg.ScriptsDir, cfg.ScriptPrefix, cfg.Workers, logger)
	g := gate.New(cfg.Concurrency)
	svc := domain.NewQueueService(repo, repo, registry, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Jobs left active by a previous run have no supervised worker
	// anymore; fail them before dispatch starts.
	if recovered, err := svc.RecoverInterrupted(ctx); err != nil {
		logger.Fatal("recover interrupted jobs", zap.Error(err))
	} else if recovered > 0 {
		logger.Warn("failed interrupted jobs from previous run", zap.Int64("count", recovered))
	}

	limit, err := svc.RestoreConcurrency(ctx, cfg.Concurrency)
	if err != nil {
		logger.Warn("restore persisted concurrency", zap.Error(err))
	} else {
		logger.Info("concurrency limit", zap.Int("limit", limit))
	}

	sup := worker.NewSupervisor(repo, g, cfg.DownloadDir, cfg.MaxRunDuration, logger)
	dispatcher := worker.NewDispatcher(repo, g, registry, sup, cfg.PollInterval, logger)
	svc.OnChange(dispatcher.Wake)

	updater := tool.NewUpdater(cfg.UpdateCommand, cfg.UpdateTimeout, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(svc, updater, addr, cfg.APIKey, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go registry.RunRefresher(ctx, cfg.RefreshInterval)
	go dispatcher.Run(ctx)

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
