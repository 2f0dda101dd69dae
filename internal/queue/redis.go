package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aggregator/internal/domain/event"

	"github.com/redis/go-redis/v9"
)

// Redis is the durable queue: a Redis list written with RPUSH and drained
// with BLPOP. Events travel as JSON.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (q *Redis) Enqueue(ctx context.Context, ev *event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}

	return nil
}

func (q *Redis) DequeueBlocking(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		// redis.Nil means the timeout elapsed with nothing to pop.
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("blpop %s: %w", q.key, err)
	}

	// BLPOP returns [key, value].
	ev := &event.Event{}
	if err := json.Unmarshal([]byte(res[1]), ev); err != nil {
		return nil, fmt.Errorf("%w: decode queued event: %v", event.ErrMalformed, err)
	}

	return ev, nil
}

func (q *Redis) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}
