package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"aggregator/internal/domain/audit"
	"aggregator/internal/domain/event"
	"aggregator/internal/domain/metrics"
)

// Outcome classifies one processed event.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Store is the slice of the record store the engine drives. Insert attempts
// come back as a tagged outcome (new vs. already stored) rather than an
// error; the store's unique constraint serializes racing inserts.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	EnsureCounters(ctx context.Context) error
	InsertEvent(ctx context.Context, ev *event.Event) (bool, error)
	IncrementCounter(ctx context.Context, c metrics.Counter, delta int64) error
	AppendAudit(ctx context.Context, entry *audit.Entry) error
}

// Engine runs the idempotent insert protocol for one caller. Workers hold
// one engine each over a private store session; the API path holds one over
// the shared pool.
type Engine struct {
	store    Store
	workerID string
	audit    bool
}

func NewEngine(store Store, workerID string, auditEnabled bool) *Engine {
	return &Engine{store: store, workerID: workerID, audit: auditEnabled}
}

// RecordReceived counts admitted events before they are queued or batch
// processed, regardless of how they are classified later.
func (e *Engine) RecordReceived(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	if err := e.store.EnsureCounters(ctx); err != nil {
		return err
	}

	return e.store.IncrementCounter(ctx, metrics.Received, int64(n))
}

// Process stores one event exactly once. The insert and the matching
// unique_processed increment commit as a single transaction; the duplicate
// branch increments duplicate_dropped in a fresh transaction of its own.
func (e *Engine) Process(ctx context.Context, ev *event.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	if err := e.store.EnsureCounters(ctx); err != nil {
		return 0, err
	}

	var inserted bool
	err := e.store.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inserted, err = e.store.InsertEvent(txCtx, ev)
		if err != nil || !inserted {
			return err
		}

		if err := e.store.IncrementCounter(txCtx, metrics.UniqueProcessed, 1); err != nil {
			return err
		}

		return e.appendAudit(txCtx, ev, audit.ActionInserted)
	})
	if err != nil {
		return 0, fmt.Errorf("process %s: %w", ev.Key(), err)
	}

	if inserted {
		slog.Info("event inserted", "topic", ev.Topic, "event_id", ev.EventID, "worker", e.workerID)
		return OutcomeInserted, nil
	}

	err = e.store.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := e.store.IncrementCounter(txCtx, metrics.DuplicateDropped, 1); err != nil {
			return err
		}
		return e.appendAudit(txCtx, ev, audit.ActionDuplicateDropped)
	})
	if err != nil {
		return 0, fmt.Errorf("record duplicate %s: %w", ev.Key(), err)
	}

	slog.Info("duplicate dropped", "topic", ev.Topic, "event_id", ev.EventID, "worker", e.workerID)
	return OutcomeDuplicate, nil
}

func (e *Engine) appendAudit(ctx context.Context, ev *event.Event, action audit.Action) error {
	if !e.audit {
		return nil
	}

	return e.store.AppendAudit(ctx, &audit.Entry{
		Topic:    ev.Topic,
		EventID:  ev.EventID,
		Action:   action,
		WorkerID: e.workerID,
	})
}
