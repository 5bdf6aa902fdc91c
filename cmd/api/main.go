package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lease-analyzer/internal/api"
	"lease-analyzer/internal/app"
	"lease-analyzer/internal/config"
	"lease-analyzer/internal/logging"
	"lease-analyzer/internal/orchestrator"
	"lease-analyzer/internal/ratelimit"
	"lease-analyzer/internal/status"
)

func main() {
	cfg := config.Load()
	logger := logging.New("api", cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	opts := api.Options{Status: status.NewService(st), Logger: logger}
	orchOpts := orchestrator.Options{Store: st, Files: files, Logger: logger}
	g, ctx := errgroup.WithContext(ctx)

	switch cfg.DispatchMode {
	case "redis":
		// Jobs are advanced by the worker binary; this process only starts and
		// cancels them.
		client := app.NewRedisClient(cfg)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		q := app.NewQueue(client, cfg)
		orchOpts.Scheduler = q
		opts.DeadLetters = q
		opts.Limiter = ratelimit.NewTokenBucket(client, app.RedisPrefix+"ratelimit:analyze:", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	case "local":
		gw, err := app.NewGateway(cfg, files, logger)
		if err != nil {
			logger.Error("build gateway", "error", err)
			os.Exit(1)
		}
		pool := orchestrator.NewPool(orchestrator.PoolConfig{
			Workers:        cfg.WorkerConcurrency,
			MaxDeliveries:  cfg.MaxDeliveries,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		}, logger)
		orchOpts.Gateway = gw
		orchOpts.Scheduler = pool
		orch := orchestrator.New(orchOpts)
		g.Go(func() error { return pool.Run(ctx, orch.Resume) })
		g.Go(func() error {
			if _, err := orch.RecoverActive(ctx, 1000); err != nil && ctx.Err() == nil {
				logger.Error("recover active jobs", "error", err)
			}
			return orch.RunRecovery(ctx, cfg.RecoveryInterval, cfg.RecoveryStaleAfter, 1000)
		})
		opts.Jobs = orch
	default:
		logger.Error("unknown dispatch mode", "mode", cfg.DispatchMode)
		os.Exit(1)
	}
	if opts.Jobs == nil {
		opts.Jobs = orchestrator.New(orchOpts)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("api listening", "port", cfg.HTTPPort, "dispatch", cfg.DispatchMode, "store", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}
