package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeyStore is an in-memory stand-in for the Redis key commands the
// guard uses. TTLs are ignored; tests only care about key lifecycle.
type fakeKeyStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{data: map[string]string{}}
}

func (f *fakeKeyStore) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeKeyStore) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKeyStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKeyStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeKeyStore) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	return val, ok
}

func guardedHandler(store keyStore, status int) http.Handler {
	return idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
}

func postWithKey(t *testing.T, h http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/publish", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyBlocksReplayAfterSuccess(t *testing.T) {
	store := newFakeKeyStore()
	h := guardedHandler(store, http.StatusOK)

	first := postWithKey(t, h, "key-1")
	require.Equal(t, http.StatusOK, first.Code)

	val, ok := store.value("aggregator:idempotency:key-1")
	require.True(t, ok)
	assert.Equal(t, "COMPLETED", val)

	second := postWithKey(t, h, "key-1")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Hit"))
}

func TestIdempotencyReleasesKeyAfterFailure(t *testing.T) {
	store := newFakeKeyStore()
	failing := guardedHandler(store, http.StatusInternalServerError)

	first := postWithKey(t, failing, "key-1")
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// A failed publish must stay retryable with the same key.
	_, ok := store.value("aggregator:idempotency:key-1")
	assert.False(t, ok)

	retry := postWithKey(t, guardedHandler(store, http.StatusOK), "key-1")
	assert.Equal(t, http.StatusOK, retry.Code)
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	store := newFakeKeyStore()
	h := guardedHandler(store, http.StatusOK)

	for i := 0; i < 2; i++ {
		rec := postWithKey(t, h, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIdempotencyNilClientPassthrough(t *testing.T) {
	h := Idempotency(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := postWithKey(t, h, "key-1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
