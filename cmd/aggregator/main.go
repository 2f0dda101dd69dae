package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aggregator/internal/api"
	"aggregator/internal/application/factories/infrastructure"
	"aggregator/internal/config"
	"aggregator/internal/dedup"
	"aggregator/internal/infrastructure/postgres"
	"aggregator/internal/queue"
	"aggregator/internal/usecase"
	"aggregator/internal/worker"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	if err := postgres.Migrate(ctx, pgPool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	// Queue: Redis by default, in-process for tests and demos. Without a
	// Redis client the stats cache and idempotency guard degrade to no-ops.
	var (
		eventQueue  queue.Queue
		queueType   string
		redisClient *redis.Client
	)
	if cfg.Queue.UseInMemory {
		eventQueue = queue.NewMemory(cfg.Queue.MemoryCapacity)
		queueType = "inmemory"
	} else {
		redisClient, err = infraFactory.Redis(ctx)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		eventQueue = queue.NewRedis(redisClient, cfg.Queue.Key)
		queueType = "redis"
	}

	store := postgres.NewStore(pgPool)

	// The API path shares the pool; each worker pins its own session.
	apiEngine := dedup.NewEngine(store, "api", cfg.Audit.Enabled)

	publishUC := usecase.NewPublish(apiEngine, eventQueue)
	listUC := usecase.NewListEvents(store)
	statsUC := usecase.NewStats(store, redisClient, time.Now())

	handlers := api.NewHandlers(publishUC, listUC, statsUC, store, eventQueue, api.RuntimeInfo{
		QueueType:      queueType,
		WorkerCount:    cfg.Workers.Count,
		WorkersEnabled: !cfg.Workers.Disabled,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.NewRouter(handlers, redisClient),
	}

	poolDone := make(chan struct{})
	if cfg.Workers.Disabled {
		logger.Info("workers disabled")
		close(poolDone)
	} else {
		pool := worker.NewPool(worker.Config{
			Count:          cfg.Workers.Count,
			DequeueTimeout: cfg.Queue.DequeueTimeout,
			Backoff:        cfg.Workers.Backoff,
		}, eventQueue, func(ctx context.Context, workerID string) (worker.Processor, func(), error) {
			session, err := store.Session(ctx)
			if err != nil {
				return nil, nil, err
			}
			return dedup.NewEngine(session, workerID, cfg.Audit.Enabled), session.Close, nil
		})

		go func() {
			defer close(poolDone)
			if err := pool.Run(ctx); err != nil {
				logger.Error("worker pool stopped with error", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "queue", queueType)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Workers drain their in-flight events before exiting.
	<-poolDone

	logger.Info("aggregator exiting")
}
