package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	rl := NewRedisRateLimiter(unreachableRedis(t))

	allowed, remaining, resetAt := rl.Check(t.Context(), "owner-1", 10)

	assert.True(t, allowed)
	assert.Equal(t, 9, remaining)
	assert.NotZero(t, resetAt)
}

func TestRedisRateLimitMiddleware(t *testing.T) {
	mw := NewRedisRateLimitMiddleware(unreachableRedis(t), 5)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	t.Run("sets headers for owners", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		req = req.WithContext(WithOwner(req.Context(), "owner-1"))
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("passes through without owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		rec := httptest.NewRecorder()

		mw.Handler(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	mw := NewBodyLimitMiddleware(8)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/commands", http.NoBody)
	req.ContentLength = 64
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeCode(t, rec))
}
