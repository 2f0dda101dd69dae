package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"aggregator/internal/domain/audit"
	"aggregator/internal/domain/event"
	"aggregator/internal/domain/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics the record store, including transaction semantics:
// WithinTransaction stages changes on a copy and publishes them only when
// fn succeeds. Transactions are serialized by a mutex, matching the
// first-committer-wins behavior the unique constraint gives the real store.
type fakeStore struct {
	mu    sync.Mutex
	state *storeState

	insertHook    func(ev *event.Event) error
	incrementHook func(c metrics.Counter) error
}

type storeState struct {
	events        map[string]*event.Event
	counters      map[metrics.Counter]int64
	countersExist bool
	audits        []*audit.Entry
}

type fakeTxKey struct{}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newStoreState()}
}

func newStoreState() *storeState {
	return &storeState{
		events:   make(map[string]*event.Event),
		counters: make(map[metrics.Counter]int64),
	}
}

func (st *storeState) clone() *storeState {
	c := newStoreState()
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.counters {
		c.counters[k] = v
	}
	c.countersExist = st.countersExist
	c.audits = append(c.audits, st.audits...)
	return c
}

func txState(ctx context.Context) (*storeState, bool) {
	st, ok := ctx.Value(fakeTxKey{}).(*storeState)
	return st, ok
}

func (f *fakeStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := f.state.clone()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, staged)); err != nil {
		return err
	}

	f.state = staged
	return nil
}

func (f *fakeStore) EnsureCounters(ctx context.Context) error {
	if st, ok := txState(ctx); ok {
		st.countersExist = true
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.countersExist = true
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev *event.Event) (bool, error) {
	if f.insertHook != nil {
		if err := f.insertHook(ev); err != nil {
			return false, err
		}
	}

	if st, ok := txState(ctx); ok {
		return insertInto(st, ev), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return insertInto(f.state, ev), nil
}

func insertInto(st *storeState, ev *event.Event) bool {
	if _, dup := st.events[ev.Key()]; dup {
		return false
	}

	stored := *ev
	stored.ProcessedAt = time.Now().UTC()
	st.events[ev.Key()] = &stored
	return true
}

func (f *fakeStore) IncrementCounter(ctx context.Context, c metrics.Counter, delta int64) error {
	if f.incrementHook != nil {
		if err := f.incrementHook(c); err != nil {
			return err
		}
	}

	if st, ok := txState(ctx); ok {
		st.counters[c] += delta
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.counters[c] += delta
	return nil
}

func (f *fakeStore) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	if st, ok := txState(ctx); ok {
		st.audits = append(st.audits, entry)
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.audits = append(f.state.audits, entry)
	return nil
}

func (f *fakeStore) counter(c metrics.Counter) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.counters[c]
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.events)
}

func (f *fakeStore) auditEntries() []*audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*audit.Entry(nil), f.state.audits...)
}

func testEvent(topic, id string) *event.Event {
	return &event.Event{
		Topic:     topic,
		EventID:   id,
		Timestamp: time.Now().UTC(),
		Source:    "test",
		Payload:   []byte(`{"n":1}`),
	}
}

func TestProcessInsertsNewEvent(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "worker-0", false)

	outcome, err := engine.Process(context.Background(), testEvent("orders", "evt-1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, 1, store.eventCount())
	assert.Equal(t, int64(1), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(0), store.counter(metrics.DuplicateDropped))
}

func TestProcessIsIdempotent(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "worker-0", false)
	ev := testEvent("orders", "evt-1")

	const n = 5
	for i := 0; i < n; i++ {
		outcome, err := engine.Process(context.Background(), ev)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeInserted, outcome)
		} else {
			assert.Equal(t, OutcomeDuplicate, outcome)
		}
	}

	assert.Equal(t, 1, store.eventCount())
	assert.Equal(t, int64(1), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(n-1), store.counter(metrics.DuplicateDropped))
}

func TestProcessCrossTopicIndependence(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "worker-0", false)

	for _, topic := range []string{"orders", "payments"} {
		outcome, err := engine.Process(context.Background(), testEvent(topic, "shared-id"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeInserted, outcome)
	}

	assert.Equal(t, 2, store.eventCount())
	assert.Equal(t, int64(2), store.counter(metrics.UniqueProcessed))
}

func TestProcessRejectsMalformedEvent(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "worker-0", false)

	_, err := engine.Process(context.Background(), &event.Event{EventID: "evt-1"})
	require.ErrorIs(t, err, event.ErrMalformed)

	assert.Equal(t, 0, store.eventCount())
	assert.Equal(t, int64(0), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(0), store.counter(metrics.DuplicateDropped))
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, NewEngine(store, "api", false).RecordReceived(context.Background(), 5))

	ev := testEvent("orders", "contested")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine := NewEngine(store, workerID, false)
			_, err := engine.Process(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.eventCount())
	assert.Equal(t, int64(1), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(4), store.counter(metrics.DuplicateDropped))
	assert.Equal(t, store.counter(metrics.Received),
		store.counter(metrics.UniqueProcessed)+store.counter(metrics.DuplicateDropped))
}

func TestProcessDoesNotCountOnInsertFailure(t *testing.T) {
	store := newFakeStore()
	store.insertHook = func(*event.Event) error {
		return errors.New("store unavailable")
	}
	engine := NewEngine(store, "worker-0", false)

	_, err := engine.Process(context.Background(), testEvent("orders", "evt-1"))
	require.Error(t, err)

	assert.Equal(t, 0, store.eventCount())
	assert.Equal(t, int64(0), store.counter(metrics.UniqueProcessed))
}

func TestRecordReceived(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "api", false)

	require.NoError(t, engine.RecordReceived(context.Background(), 3))
	require.NoError(t, engine.RecordReceived(context.Background(), 2))
	require.NoError(t, engine.RecordReceived(context.Background(), 0))

	assert.Equal(t, int64(5), store.counter(metrics.Received))
}

func TestWorkedExample(t *testing.T) {
	// Submit {t,a}, {t,a}, {t,b}: expect received=3, unique=2, duplicate=1.
	store := newFakeStore()
	engine := NewEngine(store, "worker-0", false)
	ctx := context.Background()

	require.NoError(t, engine.RecordReceived(ctx, 3))
	for _, id := range []string{"a", "a", "b"} {
		_, err := engine.Process(ctx, testEvent("t", id))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), store.counter(metrics.Received))
	assert.Equal(t, int64(2), store.counter(metrics.UniqueProcessed))
	assert.Equal(t, int64(1), store.counter(metrics.DuplicateDropped))
}

func TestProcessWritesAuditTrail(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, "worker-7", true)
	ctx := context.Background()

	_, err := engine.Process(ctx, testEvent("orders", "evt-1"))
	require.NoError(t, err)
	_, err = engine.Process(ctx, testEvent("orders", "evt-1"))
	require.NoError(t, err)

	entries := store.auditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionInserted, entries[0].Action)
	assert.Equal(t, audit.ActionDuplicateDropped, entries[1].Action)
	assert.Equal(t, "worker-7", entries[0].WorkerID)
}
