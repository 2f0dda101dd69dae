package dedup

import (
	"context"
	"errors"
	"testing"

	"aggregator/internal/domain/event"
	"aggregator/internal/domain/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBatchToleratesInBatchDuplicate(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "api", false)

	batch := []*event.Event{
		testEvent("t", "a"),
		testEvent("t", "b"),
		testEvent("t", "c"),
		testEvent("t", "a"), // duplicate of the first
		testEvent("t", "d"),
		testEvent("t", "e"),
	}

	inserted, duplicates, err := engine.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 5, inserted)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, 5, store.eventCount())
	assert.Equal(t, int64(5), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(1), store.counter(metrics.DuplicateDropped))
}

func TestProcessBatchToleratesStoredDuplicate(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "api", false)
	ctx := context.Background()

	_, err := engine.Process(ctx, testEvent("t", "a"))
	require.NoError(t, err)

	inserted, duplicates, err := engine.ProcessBatch(ctx, []*event.Event{
		testEvent("t", "a"),
		testEvent("t", "b"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, 2, store.eventCount())
}

func TestProcessBatchAbortsAtomically(t *testing.T) {
	store := newFakeStore()
	calls := 0
	store.insertHook = func(*event.Event) error {
		calls++
		if calls == 4 {
			return errors.New("store unavailable")
		}
		return nil
	}
	engine := NewEngine(store, "api", false)

	batch := []*event.Event{
		testEvent("t", "a"),
		testEvent("t", "b"),
		testEvent("t", "c"),
		testEvent("t", "d"),
		testEvent("t", "e"),
	}

	inserted, duplicates, err := engine.ProcessBatch(context.Background(), batch)
	require.Error(t, err)

	// Nothing from the batch may be visible: no rows, no counter deltas.
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 0, duplicates)
	assert.Equal(t, 0, store.eventCount())
	assert.Equal(t, int64(0), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(0), store.counter(metrics.DuplicateDropped))
}

func TestProcessBatchRollsBackOnCounterFailure(t *testing.T) {
	store := newFakeStore()
	store.incrementHook = func(c metrics.Counter) error {
		if c == metrics.UniqueProcessed {
			return errors.New("store unavailable")
		}
		return nil
	}
	engine := NewEngine(store, "api", false)

	_, _, err := engine.ProcessBatch(context.Background(), []*event.Event{testEvent("t", "a")})
	require.Error(t, err)

	assert.Equal(t, 0, store.eventCount())
	assert.Equal(t, int64(0), store.counter(metrics.UniqueProcessed))
}

func TestProcessBatchRejectsMalformedUpfront(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "api", false)

	batch := []*event.Event{
		testEvent("t", "a"),
		{Topic: "t"}, // missing event_id
	}

	inserted, duplicates, err := engine.ProcessBatch(context.Background(), batch)
	require.ErrorIs(t, err, event.ErrMalformed)

	assert.Equal(t, 0, inserted)
	assert.Equal(t, 0, duplicates)
	assert.Equal(t, 0, store.eventCount())
}

func TestProcessBatchEmpty(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "api", false)

	inserted, duplicates, err := engine.ProcessBatch(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, inserted)
	assert.Equal(t, 0, duplicates)
}
