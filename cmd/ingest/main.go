package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aggregator/internal/application/factories/infrastructure"
	"aggregator/internal/config"
	"aggregator/internal/dedup"
	"aggregator/internal/domain/event"
	"aggregator/internal/infrastructure/kafka"
	"aggregator/internal/infrastructure/postgres"
	"aggregator/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsBridged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_ingest_events_bridged_total",
		Help: "The total number of Kafka events admitted to the dedup queue",
	})
	eventsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_ingest_events_discarded_total",
		Help: "The total number of Kafka messages discarded as undecodable or exhausted",
	})
)

// The ingest bridge drains a Kafka topic into the dedup queue. Redelivered
// Kafka messages are harmless: the store deduplicates downstream.
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

	// Metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("ingest metrics listening on :9091")
		http.ListenAndServe(":9091", mux)
	}()

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

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	eventQueue := queue.NewRedis(redisClient, cfg.Queue.Key)
	engine := dedup.NewEngine(postgres.NewStore(pgPool), "ingest", cfg.Audit.Enabled)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer consumer.Close()

	logger.Info("ingest bridge started", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)

	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to fetch message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		// Retry loop: transient failures back off, then the message is
		// dropped rather than wedging the partition.
		const maxRetries = 5
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				backoff := time.Duration(1<<attempt) * time.Second
				logger.Info("retry attempt", "attempt", attempt, "max", maxRetries, "backoff", backoff)
				time.Sleep(backoff)
			}

			processErr := func() error {
				ev := &event.Event{}
				if err := json.Unmarshal(msg.Value, ev); err != nil {
					// Not our shape (or corrupt). Commit and move on.
					logger.Error("failed to unmarshal event", "error", err)
					eventsDiscarded.Inc()
					return nil
				}
				if err := ev.Validate(); err != nil {
					logger.Error("malformed event from kafka", "error", err)
					eventsDiscarded.Inc()
					return nil
				}

				if err := engine.RecordReceived(ctx, 1); err != nil {
					return fmt.Errorf("record received: %w", err)
				}
				if err := eventQueue.Enqueue(ctx, ev); err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}

				eventsBridged.Inc()
				return nil
			}()

			if processErr == nil {
				if err := consumer.CommitMessages(ctx, msg); err != nil {
					logger.Error("failed to commit kafka message", "error", err)
				}
				break
			}

			logger.Error("bridging failed", "error", processErr)
			if attempt == maxRetries {
				logger.Error("dropping message after retries", "retries", maxRetries, "error", processErr)
				eventsDiscarded.Inc()
				if err := consumer.CommitMessages(ctx, msg); err != nil {
					logger.Error("failed to commit drop to kafka", "error", err)
				}
			}
		}
	}

	logger.Info("ingest bridge exiting")
}
