package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lease-analyzer/internal/app"
	"lease-analyzer/internal/config"
	"lease-analyzer/internal/logging"
	"lease-analyzer/internal/orchestrator"
	"lease-analyzer/internal/telemetry"
	"lease-analyzer/internal/worker"
)

func main() {
	cfg := config.Load()

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	logger := logging.New("worker", cfg.LogLevel, cfg.LogFormat).With("worker_id", workerID)

	if cfg.DispatchMode != "redis" {
		logger.Error("worker requires DISPATCH_MODE=redis; local mode runs jobs inside the api process", "mode", cfg.DispatchMode)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	files, err := app.OpenFiles(ctx, cfg)
	if err != nil {
		logger.Error("open filestore", "error", err)
		os.Exit(1)
	}
	gw, err := app.NewGateway(cfg, files, logger)
	if err != nil {
		logger.Error("build gateway", "error", err)
		os.Exit(1)
	}

	client := app.NewRedisClient(cfg)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	q := app.NewQueue(client, cfg)

	orch := orchestrator.New(orchestrator.Options{
		Store:     st,
		Gateway:   gw,
		Scheduler: q,
		Locker:    orchestrator.NewRedisLocker(client, app.RedisPrefix, cfg.JobLockTTL, logger),
		Files:     files,
		Logger:    logger,
	})
	if _, err := orch.RecoverActive(ctx, 1000); err != nil {
		logger.Error("recover active jobs", "error", err)
	}

	processor := worker.NewProcessor(cfg, q, orch.Resume, logger)
	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return metrics.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return orch.RunRecovery(ctx, cfg.RecoveryInterval, cfg.RecoveryStaleAfter, 1000)
	})
	g.Go(func() error {
		logger.Info("worker started", "visibility", cfg.VisibilityTimeout, "concurrency", cfg.WorkerConcurrency, "backoff_initial", cfg.BackoffInitial)
		return processor.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
