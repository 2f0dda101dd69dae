package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func NewClient(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Migrate creates the schema if it is not there yet. The unique constraint
// on (topic, event_id) is what the whole dedup pipeline leans on.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			topic VARCHAR(255) NOT NULL,
			event_id VARCHAR(255) NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			source VARCHAR(255) NOT NULL,
			payload JSONB NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_events_topic_event_id UNIQUE (topic, event_id)
		);
		CREATE INDEX IF NOT EXISTS ix_events_topic ON events (topic);
		CREATE INDEX IF NOT EXISTS ix_events_processed_at ON events (processed_at);

		CREATE TABLE IF NOT EXISTS metrics (
			id INT PRIMARY KEY,
			received_count BIGINT NOT NULL DEFAULT 0,
			unique_processed_count BIGINT NOT NULL DEFAULT 0,
			duplicate_dropped_count BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			topic VARCHAR(255) NOT NULL,
			event_id VARCHAR(255) NOT NULL,
			action VARCHAR(50) NOT NULL,
			worker_id VARCHAR(50),
			details TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS ix_audit_log_created_at ON audit_log (created_at);
		CREATE INDEX IF NOT EXISTS ix_audit_log_action ON audit_log (action);
	`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	return nil
}
