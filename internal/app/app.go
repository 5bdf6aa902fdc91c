// Package app builds the runtime components shared by the api and worker
// binaries from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lease-analyzer/internal/activity"
	"lease-analyzer/internal/analysis"
	"lease-analyzer/internal/config"
	"lease-analyzer/internal/filestore"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/queue"
	"lease-analyzer/internal/store"
)

// OpenStore connects the configured job and checkpoint store. Postgres is
// migrated before it is returned. Redis dispatch splits work across the api
// and worker processes, so it requires a store both can reach.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	backend := strings.ToLower(cfg.StoreBackend)
	if strings.EqualFold(cfg.DispatchMode, "redis") && (backend == "memory" || backend == "badger") {
		return nil, fmt.Errorf("store backend %q is private to one process and cannot be used with redis dispatch; use postgres or DISPATCH_MODE=local", cfg.StoreBackend)
	}
	switch backend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.RunMigrations(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case "badger":
		db, err := store.OpenBadger(store.BadgerConfig{Path: cfg.BadgerPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return db, nil
	case "memory":
		logger.Warn("using in-memory store; jobs do not survive restarts")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// OpenFiles returns the document store uploads are read from.
func OpenFiles(ctx context.Context, cfg config.Config) (filestore.FileStore, error) {
	switch strings.ToLower(cfg.FileStoreBackend) {
	case "local":
		return filestore.NewLocal(cfg.FileStoreDir)
	case "s3":
		return filestore.NewS3(ctx, filestore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown filestore backend %q", cfg.FileStoreBackend)
	}
}

func newClassifier(cfg config.Config, logger *slog.Logger) (analysis.Classifier, error) {
	switch strings.ToLower(cfg.Classifier) {
	case "keyword":
		return analysis.NewKeywordClassifier(), nil
	case "openai":
		return analysis.NewOpenAIClassifier(analysis.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

// Policy maps activity settings onto a gateway policy. Timeouts keyed by an
// unknown phase name are ignored.
func Policy(cfg config.Config) activity.Policy {
	timeouts := make(map[models.Phase]time.Duration, len(cfg.PhaseTimeouts))
	for name, d := range cfg.PhaseTimeouts {
		phase := models.Phase(name)
		if _, ok := phase.Info(); ok || phase == models.PhaseFallback {
			timeouts[phase] = d
		}
	}
	return activity.Policy{
		MaxAttempts:    cfg.ActivityMaxAttempts,
		BackoffInitial: cfg.ActivityBackoffInitial,
		BackoffMax:     cfg.ActivityBackoffMax,
		DefaultTimeout: cfg.ActivityTimeout,
		PhaseTimeouts:  timeouts,
		Concurrency:    int64(cfg.ActivityConcurrency),
	}
}

// NewGateway builds the activity gateway with every phase registered.
func NewGateway(cfg config.Config, files filestore.FileStore, logger *slog.Logger) (*activity.Gateway, error) {
	classifier, err := newClassifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	gw := activity.NewGateway(Policy(cfg), logger)
	activity.Collaborators{
		Files:      files,
		Parser:     analysis.NewTextParser(),
		Structurer: analysis.NewRuleStructurer(),
		Classifier: classifier,
		Reports:    analysis.NewReportBuilder(),
	}.Register(gw)
	return gw, nil
}

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisPrefix namespaces every key this service writes.
const RedisPrefix = "lease:"

func NewQueue(client redis.UniversalClient, cfg config.Config) *queue.RedisQueue {
	return queue.NewRedisQueue(client, queue.Options{
		Prefix:            RedisPrefix,
		VisibilityTimeout: cfg.VisibilityTimeout,
		DLQName:           cfg.DLQName,
	})
}
