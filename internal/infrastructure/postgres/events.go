package postgres

import (
	"context"
	"fmt"

	"aggregator/internal/domain/event"
)

// ListByTopic returns stored events for one topic, newest first.
func (s *Store) ListByTopic(ctx context.Context, topic string, limit, offset int) ([]*event.Event, error) {
	const query = `
		SELECT topic, event_id, ts, source, payload, processed_at
		FROM events
		WHERE topic = $1
		ORDER BY processed_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.exec(ctx).Query(ctx, query, topic, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		ev := &event.Event{}
		if err := rows.Scan(&ev.Topic, &ev.EventID, &ev.Timestamp, &ev.Source, &ev.Payload, &ev.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

func (s *Store) DistinctTopics(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT topic FROM events ORDER BY topic`

	rows, err := s.exec(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}

	return topics, nil
}

// DeleteByTopic removes stored events for one topic, or every event when
// topic is empty. Test and demo tooling only.
func (s *Store) DeleteByTopic(ctx context.Context, topic string) (int64, error) {
	if topic == "" {
		tag, err := s.exec(ctx).Exec(ctx, `DELETE FROM events`)
		if err != nil {
			return 0, fmt.Errorf("delete events: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := s.exec(ctx).Exec(ctx, `DELETE FROM events WHERE topic = $1`, topic)
	if err != nil {
		return 0, fmt.Errorf("delete events for topic %s: %w", topic, err)
	}
	return tag.RowsAffected(), nil
}
