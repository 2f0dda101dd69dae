package usecase

import (
	"context"
	"fmt"

	"aggregator/internal/domain/event"
	"aggregator/internal/queue"
)

// admitter is the slice of the dedup engine the publish path needs.
type admitter interface {
	RecordReceived(ctx context.Context, n int) error
	ProcessBatch(ctx context.Context, events []*event.Event) (int, int, error)
}

type PublishResult struct {
	Accepted   int  `json:"accepted"`
	Queued     int  `json:"queued"`
	Processed  *int `json:"processed,omitempty"`
	Duplicates *int `json:"duplicates,omitempty"`
}

// Publish admits a batch of events: count them as received, then either
// queue them for the worker pool or run the batch-atomic path inline.
type Publish struct {
	engine admitter
	queue  queue.Queue
}

func NewPublish(engine admitter, q queue.Queue) *Publish {
	return &Publish{engine: engine, queue: q}
}

func (uc *Publish) Execute(ctx context.Context, events []*event.Event, atomic bool) (*PublishResult, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty batch", event.ErrMalformed)
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}

	// Admission is counted before classification, duplicates included.
	if err := uc.engine.RecordReceived(ctx, len(events)); err != nil {
		return nil, fmt.Errorf("record received: %w", err)
	}

	if atomic {
		inserted, duplicates, err := uc.engine.ProcessBatch(ctx, events)
		if err != nil {
			return nil, err
		}
		return &PublishResult{
			Accepted:   len(events),
			Processed:  &inserted,
			Duplicates: &duplicates,
		}, nil
	}

	for i, ev := range events {
		if err := uc.queue.Enqueue(ctx, ev); err != nil {
			return nil, fmt.Errorf("enqueue event %d of %d: %w", i+1, len(events), err)
		}
	}

	return &PublishResult{Accepted: len(events), Queued: len(events)}, nil
}
