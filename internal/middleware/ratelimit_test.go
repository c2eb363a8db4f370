package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "key-1", 10, time.Minute)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "key-2", 5, time.Minute)
		}

		allowed, remaining, _ := limiter.Check(ctx, "key-2", 5, time.Minute)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "key-a", 5, time.Minute)
		}

		allowed, _, _ := limiter.Check(ctx, "key-b", 5, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewMemoryRateLimiter()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			limiter.Check(ctx, "key-3", 3, time.Minute)
		}
		allowed, _, resetAt := limiter.Check(ctx, "key-3", 3, time.Minute)
		assert.False(t, allowed)
		assert.Equal(t, now.Add(time.Minute), resetAt)

		now = now.Add(61 * time.Second)
		allowed, remaining, _ := limiter.Check(ctx, "key-3", 3, time.Minute)
		assert.True(t, allowed)
		assert.Equal(t, 2, remaining)
	})
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows then blocks", func(t *testing.T) {
		_, client := newMiniredis(t)
		limiter := NewRedisRateLimiter(client)

		for i := 0; i < 3; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "ip:pin:1.2.3.4", 3, time.Minute)
			assert.True(t, allowed, "request %d", i+1)
			assert.Equal(t, 3-i-1, remaining)
		}

		allowed, remaining, resetAt := limiter.Check(ctx, "ip:pin:1.2.3.4", 3, time.Minute)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("keys are prefixed and expire", func(t *testing.T) {
		mr, client := newMiniredis(t)
		limiter := NewRedisRateLimiter(client)

		limiter.Check(ctx, "ip:pin:5.6.7.8", 3, time.Minute)

		assert.True(t, mr.Exists("ratelimit:ip:pin:5.6.7.8"))
		assert.Greater(t, mr.TTL("ratelimit:ip:pin:5.6.7.8"), time.Minute)
	})

	t.Run("fails open when redis is down", func(t *testing.T) {
		mr, client := newMiniredis(t)
		limiter := NewRedisRateLimiter(client)
		mr.Close()

		allowed, _, _ := limiter.Check(ctx, "ip:pin:9.9.9.9", 1, time.Minute)
		assert.True(t, allowed)
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(h http.Handler, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/plex/oauth/pin", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("sets rate limit headers", func(t *testing.T) {
		h := NewIPRateLimitMiddleware(NewMemoryRateLimiter(), 10, time.Minute, "pin").Handler(ok)

		rec := serve(h, "10.0.0.1:1111")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 per address", func(t *testing.T) {
		_, client := newMiniredis(t)
		h := NewIPRateLimitMiddleware(NewRedisRateLimiter(client), 2, time.Minute, "pin").Handler(ok)

		serve(h, "10.0.0.2:1000")
		serve(h, "10.0.0.2:1001")
		rec := serve(h, "10.0.0.2:1002")

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

		// another address is unaffected
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.3:1000").Code)
	})

	t.Run("zero limit disables", func(t *testing.T) {
		h := NewIPRateLimitMiddleware(NewMemoryRateLimiter(), 0, time.Minute, "pin").Handler(ok)
		for i := 0; i < 20; i++ {
			require.Equal(t, http.StatusOK, serve(h, "10.0.0.4:1").Code)
		}
	})
}
