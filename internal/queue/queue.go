package queue

import (
	"context"
	"fmt"
	"time"

	"aggregator/internal/domain/event"
)

// Queue is the FIFO the ingestion pipeline drains. DequeueBlocking returns
// (nil, nil) when no event arrived within timeout, so callers can check for
// shutdown between waits.
type Queue interface {
	Enqueue(ctx context.Context, ev *event.Event) error
	DequeueBlocking(ctx context.Context, timeout time.Duration) (*event.Event, error)
	Size(ctx context.Context) (int64, error)
}

const defaultMemoryCapacity = 4096

// Memory is a channel-backed queue with the same semantics as the Redis
// implementation. Used in tests and in USE_INMEMORY_QUEUE mode.
type Memory struct {
	ch chan *event.Event
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &Memory{ch: make(chan *event.Event, capacity)}
}

func (q *Memory) Enqueue(_ context.Context, ev *event.Event) error {
	select {
	case q.ch <- ev:
		return nil
	default:
		return fmt.Errorf("enqueue: queue full (capacity %d)", cap(q.ch))
	}
}

func (q *Memory) DequeueBlocking(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-q.ch:
		return ev, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Memory) Size(_ context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
