package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aggregator/internal/dedup"
	"aggregator/internal/domain/event"
	"aggregator/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_worker_events_inserted_total",
		Help: "The total number of unique events stored by workers",
	})
	duplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_worker_duplicates_dropped_total",
		Help: "The total number of duplicate events dropped by workers",
	})
	processingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_worker_failures_total",
		Help: "The total number of events whose processing failed",
	})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_worker_processing_duration_seconds",
		Help:    "Time taken to classify one event",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})
)

// Processor is what a worker drives each dequeued event through.
type Processor interface {
	Process(ctx context.Context, ev *event.Event) (dedup.Outcome, error)
}

// EngineFactory builds the per-worker processor over a private store
// session. The returned cleanup releases the session at worker exit.
type EngineFactory func(ctx context.Context, workerID string) (Processor, func(), error)

type Config struct {
	Count          int
	DequeueTimeout time.Duration
	Backoff        time.Duration
}

// Pool runs Count long-lived workers draining the queue. A worker never
// dies on a processing error; it logs, backs off and resumes. Shutdown is
// only checked between events, so an in-flight event always runs to
// completion.
type Pool struct {
	cfg       Config
	queue     queue.Queue
	newEngine EngineFactory
}

func NewPool(cfg Config, q queue.Queue, newEngine EngineFactory) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	return &Pool{cfg: cfg, queue: q, newEngine: newEngine}
}

// Run blocks until ctx is cancelled and every worker has drained its
// in-flight event.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "count", p.cfg.Count)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}

	wg.Wait()
	slog.Info("worker pool stopped")
	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := slog.With("worker", workerID)

	engine, cleanup, ok := p.openEngine(ctx, workerID, log)
	if !ok {
		return
	}
	defer cleanup()

	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}

		ev, err := p.queue.DequeueBlocking(ctx, p.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopped")
				return
			}
			log.Error("dequeue failed", "error", err)
			p.backoff(ctx)
			continue
		}
		if ev == nil {
			// Timed out with nothing queued; loop to re-check shutdown.
			continue
		}

		// Once dequeued the event runs to completion; cancellation is
		// not propagated mid-processing.
		started := time.Now()
		outcome, err := engine.Process(context.WithoutCancel(ctx), ev)
		if err != nil {
			processingFailures.Inc()
			log.Error("processing failed", "topic", ev.Topic, "event_id", ev.EventID, "error", err)
			p.backoff(ctx)
			continue
		}

		processingDuration.Observe(time.Since(started).Seconds())
		switch outcome {
		case dedup.OutcomeInserted:
			eventsInserted.Inc()
		case dedup.OutcomeDuplicate:
			duplicatesDropped.Inc()
		}
	}
}

// openEngine retries session acquisition with backoff so a worker survives
// the store being briefly unavailable at startup.
func (p *Pool) openEngine(ctx context.Context, workerID string, log *slog.Logger) (Processor, func(), bool) {
	for {
		engine, cleanup, err := p.newEngine(ctx, workerID)
		if err == nil {
			return engine, cleanup, true
		}

		if ctx.Err() != nil {
			return nil, nil, false
		}

		log.Error("open store session failed", "error", err)
		p.backoff(ctx)
	}
}

func (p *Pool) backoff(ctx context.Context) {
	timer := time.NewTimer(p.cfg.Backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
