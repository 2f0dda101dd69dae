package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aggregator/internal/domain/audit"
	"aggregator/internal/domain/event"
	"aggregator/internal/domain/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

// metricsRowID is the id of the singleton counters row.
const metricsRowID = 1

// counterColumns whitelists the columns reachable through IncrementCounter.
var counterColumns = map[metrics.Counter]string{
	metrics.Received:         "received_count",
	metrics.UniqueProcessed:  "unique_processed_count",
	metrics.DuplicateDropped: "duplicate_dropped_count",
}

// Store is the record store: events, the counters row and the audit log.
// A pool-backed Store serves the API path; workers pin their own session
// with Session so no connection is shared across workers.
type Store struct {
	pool    *pgxpool.Pool
	db      beginner
	release func()
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Session acquires a dedicated connection and returns a Store bound to it.
// The caller owns the session for its lifetime and must Close it.
func (s *Store) Session(ctx context.Context) (*Store, error) {
	if s.pool == nil {
		return nil, errors.New("session: store is not pool-backed")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	return &Store{db: conn, release: conn.Release}, nil
}

// Close releases the pinned connection of a session store. No-op on the
// pool-backed store; the pool is closed by whoever created it.
func (s *Store) Close() {
	if s.release != nil {
		s.release()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.exec(ctx).Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// InsertEvent attempts an idempotent insert and reports whether the row is
// new. A loser of a concurrent race on the same (topic, event_id) observes
// false, never an error: ON CONFLICT DO NOTHING waits for the winner to
// commit and then affects zero rows.
func (s *Store) InsertEvent(ctx context.Context, ev *event.Event) (bool, error) {
	const query = `
		INSERT INTO events (topic, event_id, ts, source, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (topic, event_id) DO NOTHING
	`

	tag, err := s.exec(ctx).Exec(ctx, query,
		ev.Topic, ev.EventID, ev.Timestamp, ev.Source, ev.Payload)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// EnsureCounters lazily creates the singleton counters row. The upsert makes
// it race-free: concurrent creators all converge on the same row.
func (s *Store) EnsureCounters(ctx context.Context) error {
	const query = `
		INSERT INTO metrics (id, received_count, unique_processed_count, duplicate_dropped_count, started_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := s.exec(ctx).Exec(ctx, query, metricsRowID); err != nil {
		return fmt.Errorf("ensure counters row: %w", err)
	}

	return nil
}

// IncrementCounter bumps one counter by delta with an atomic in-place
// update. Counters are never read-modified-written in application memory.
func (s *Store) IncrementCounter(ctx context.Context, c metrics.Counter, delta int64) error {
	col, ok := counterColumns[c]
	if !ok {
		return fmt.Errorf("unknown counter %q", c)
	}

	query := fmt.Sprintf(`UPDATE metrics SET %s = %s + $1 WHERE id = $2`, col, col)
	if _, err := s.exec(ctx).Exec(ctx, query, delta, metricsRowID); err != nil {
		return fmt.Errorf("increment %s: %w", c, err)
	}

	return nil
}

func (s *Store) CountersSnapshot(ctx context.Context) (*metrics.Snapshot, error) {
	if err := s.EnsureCounters(ctx); err != nil {
		return nil, err
	}

	const query = `
		SELECT received_count, unique_processed_count, duplicate_dropped_count, started_at
		FROM metrics
		WHERE id = $1
	`

	snap := &metrics.Snapshot{}
	err := s.exec(ctx).QueryRow(ctx, query, metricsRowID).Scan(
		&snap.Received, &snap.UniqueProcessed, &snap.DuplicateDropped, &snap.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}

	return snap, nil
}

func (s *Store) ResetCounters(ctx context.Context) error {
	const query = `
		UPDATE metrics
		SET received_count = 0, unique_processed_count = 0, duplicate_dropped_count = 0
		WHERE id = $1
	`

	if _, err := s.exec(ctx).Exec(ctx, query, metricsRowID); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}

	return nil
}

// AppendAudit records the classification of one event. Observability only;
// correctness never depends on the audit log.
func (s *Store) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	const query = `
		INSERT INTO audit_log (topic, event_id, action, worker_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.exec(ctx).Exec(ctx, query,
		entry.Topic, entry.EventID, string(entry.Action),
		nullIfEmpty(entry.WorkerID), nullIfEmpty(entry.Details), createdAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
