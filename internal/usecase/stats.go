package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"aggregator/internal/domain/metrics"

	"github.com/redis/go-redis/v9"
)

const statsCacheKey = "aggregator:stats"

type statsStore interface {
	CountersSnapshot(ctx context.Context) (*metrics.Snapshot, error)
	DistinctTopics(ctx context.Context) ([]string, error)
}

type StatsDTO struct {
	Received         int64    `json:"received"`
	UniqueProcessed  int64    `json:"unique_processed"`
	DuplicateDropped int64    `json:"duplicate_dropped"`
	Topics           []string `json:"topics"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	DedupRatePercent float64  `json:"dedup_rate_percent"`
}

// Stats reads the counters snapshot plus derived figures. The response is
// cached in Redis for a second to keep /stats cheap under polling.
type Stats struct {
	store       statsStore
	redisClient *redis.Client
	startedAt   time.Time
}

func NewStats(store statsStore, redisClient *redis.Client, startedAt time.Time) *Stats {
	return &Stats{store: store, redisClient: redisClient, startedAt: startedAt}
}

func (uc *Stats) Execute(ctx context.Context) (*StatsDTO, error) {
	if uc.redisClient != nil {
		val, err := uc.redisClient.Get(ctx, statsCacheKey).Result()
		if err == nil {
			cached := &StatsDTO{}
			if err := json.Unmarshal([]byte(val), cached); err == nil {
				cached.UptimeSeconds = time.Since(uc.startedAt).Seconds()
				return cached, nil
			}
		}
	}

	snap, err := uc.store.CountersSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("counters snapshot: %w", err)
	}

	topics, err := uc.store.DistinctTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("distinct topics: %w", err)
	}
	if topics == nil {
		topics = []string{}
	}

	dto := &StatsDTO{
		Received:         snap.Received,
		UniqueProcessed:  snap.UniqueProcessed,
		DuplicateDropped: snap.DuplicateDropped,
		Topics:           topics,
		UptimeSeconds:    time.Since(uc.startedAt).Seconds(),
		DedupRatePercent: math.Round(snap.DedupRate()*100*100) / 100,
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(dto); err == nil {
			// Short TTL so counters stay close to live.
			uc.redisClient.Set(ctx, statsCacheKey, data, time.Second)
		}
	}

	return dto, nil
}
