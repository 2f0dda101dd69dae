package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"aggregator/internal/domain/audit"
	"aggregator/internal/domain/event"
	"aggregator/internal/domain/metrics"
)

// ProcessBatch stores a batch of events inside one transaction. Duplicates,
// whether of stored rows or of earlier events in the same batch, are
// tolerated and tallied; any other failure rolls the whole batch back,
// counters included, and surfaces to the caller with zero counts.
func (e *Engine) ProcessBatch(ctx context.Context, events []*event.Event) (int, int, error) {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, 0, err
		}
	}

	if err := e.store.EnsureCounters(ctx); err != nil {
		return 0, 0, err
	}

	var inserted, duplicates int
	err := e.store.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, ev := range events {
			ok, err := e.store.InsertEvent(txCtx, ev)
			if err != nil {
				return fmt.Errorf("insert %s: %w", ev.Key(), err)
			}

			action := audit.ActionDuplicateDropped
			if ok {
				inserted++
				action = audit.ActionInserted
			} else {
				duplicates++
			}

			if err := e.appendAudit(txCtx, ev, action); err != nil {
				return err
			}
		}

		// Aggregate increments land only once the full pass succeeded.
		if inserted > 0 {
			if err := e.store.IncrementCounter(txCtx, metrics.UniqueProcessed, int64(inserted)); err != nil {
				return err
			}
		}
		if duplicates > 0 {
			if err := e.store.IncrementCounter(txCtx, metrics.DuplicateDropped, int64(duplicates)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("process batch: %w", err)
	}

	slog.Info("batch processed", "inserted", inserted, "duplicates", duplicates)
	return inserted, duplicates, nil
}
