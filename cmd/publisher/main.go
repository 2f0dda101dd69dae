package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aggregator/internal/config"
	"aggregator/internal/domain/event"
	"aggregator/internal/infrastructure/kafka"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

const dupBufferSize = 100

// publisher generates a stream of events with a controlled duplicate rate
// and feeds them to the aggregator, either over HTTP or via the Kafka
// ingest topic.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var (
		target   = flag.String("target", "http://localhost:8080/publish", "publish endpoint URL")
		topic    = flag.String("topic", "demo-topic", "event topic")
		rate     = flag.Float64("rate", 50, "events per second")
		dupRate  = flag.Float64("dup-rate", 0.35, "fraction of events re-sent as duplicates")
		batch    = flag.Int("batch", 1, "events per request")
		total    = flag.Int("total", 0, "stop after this many events (0 = run forever)")
		atomic   = flag.Bool("atomic", false, "use the batch-atomic publish path")
		useKafka = flag.Bool("kafka", false, "write to the Kafka ingest topic instead of HTTP")
	)
	flag.Parse()

	if *rate <= 0 {
		*rate = 50
	}
	if *batch <= 0 {
		*batch = 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var producer *kafka.Producer
	if *useKafka {
		cfg, err := config.New()
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		producer = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: *topic})
		defer producer.Close()
	}

	logger.Info("publisher started",
		"target", *target, "topic", *topic, "rate", *rate,
		"dup_rate", *dupRate, "batch", *batch, "total", *total, "kafka", *useKafka)

	var (
		dupBuffer  []*event.Event
		sent       int
		duplicates int
		started    = time.Now()
	)

	interval := time.Duration(float64(*batch) / *rate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("publisher stopped", "sent", sent, "duplicates", duplicates)
			return
		case <-report.C:
			elapsed := time.Since(started).Seconds()
			logger.Info("progress", "sent", sent, "duplicates", duplicates,
				"rate", fmt.Sprintf("%.1f/s", float64(sent)/elapsed))
		case <-ticker.C:
			events := make([]*event.Event, 0, *batch)
			for i := 0; i < *batch; i++ {
				if len(dupBuffer) > 0 && rand.Float64() < *dupRate {
					events = append(events, dupBuffer[rand.Intn(len(dupBuffer))])
					duplicates++
					continue
				}

				ev := buildEvent(*topic)
				events = append(events, ev)
				dupBuffer = append(dupBuffer, ev)
				if len(dupBuffer) > dupBufferSize {
					dupBuffer = dupBuffer[1:]
				}
			}

			var err error
			if *useKafka {
				err = sendKafka(ctx, producer, events)
			} else {
				err = sendHTTP(ctx, *target, events, *atomic)
			}
			if err != nil {
				logger.Error("send failed", "error", err)
				continue
			}

			sent += len(events)
			if *total > 0 && sent >= *total {
				logger.Info("publisher finished", "sent", sent, "duplicates", duplicates)
				return
			}
		}
	}
}

func buildEvent(topic string) *event.Event {
	payload, _ := json.Marshal(map[string]any{
		"action":       gofakeit.VerbAction(),
		"user":         gofakeit.Username(),
		"value":        gofakeit.Number(1, 1000),
		"generated_at": time.Now().Unix(),
	})

	return &event.Event{
		Topic:     topic,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "publisher",
		Payload:   payload,
	}
}

func sendHTTP(ctx context.Context, target string, events []*event.Event, atomic bool) error {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	url := target
	if atomic {
		url += "?atomic=true"
	}

	// A few retries with growing delay so brief aggregator restarts
	// don't kill the run.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("publish returned %s", resp.Status)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("publish rejected: %s", resp.Status)
		}
		return nil
	}

	return fmt.Errorf("publish failed after retries: %w", lastErr)
}

func sendKafka(ctx context.Context, producer *kafka.Producer, events []*event.Event) error {
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = producer.SendMessage(sendCtx, []byte(ev.EventID), value)
		cancel()
		if err != nil {
			return fmt.Errorf("send %s: %w", ev.Key(), err)
		}
	}
	return nil
}
