package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processingTTL = 10 * time.Second
	completedTTL  = 24 * time.Hour
)

// keyStore is the slice of the Redis client the guard uses.
type keyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Idempotency guards state-changing requests carrying an Idempotency-Key
// header against request-level redelivery. This sits in front of the
// event-level dedup the store performs; requests without the header pass
// straight through, as does everything when Redis is not configured.
func Idempotency(redisClient *redis.Client) func(http.Handler) http.Handler {
	if redisClient == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return idempotency(redisClient)
}

func idempotency(store keyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cacheKey := fmt.Sprintf("aggregator:idempotency:%s", key)
			ctx := r.Context()

			if _, err := store.Get(ctx, cacheKey).Result(); err == nil {
				w.Header().Set("X-Idempotency-Hit", "true")
				http.Error(w, "request already processed", http.StatusConflict)
				return
			} else if !errors.Is(err, redis.Nil) {
				// Redis trouble must not block publishing.
				next.ServeHTTP(w, r)
				return
			}

			// Short-lived lock so a crash mid-request cannot wedge the key.
			acquired, err := store.SetNX(ctx, cacheKey, "PROCESSING", processingTTL).Result()
			if err != nil || !acquired {
				http.Error(w, "concurrent request with same idempotency key", http.StatusConflict)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Only a successful publish is remembered; a failed one must
			// stay retryable with the same key.
			if rec.status >= 200 && rec.status < 300 {
				store.Set(ctx, cacheKey, "COMPLETED", completedTTL)
			} else {
				store.Del(ctx, cacheKey)
			}
		})
	}
}

// statusRecorder captures the status code the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
