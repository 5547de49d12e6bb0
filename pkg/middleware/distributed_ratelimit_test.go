package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

type recordingCommands struct {
	commands []string
	errors   int
}

func (r *recordingCommands) RedisCommand(command string, err error) {
	r.commands = append(r.commands, command)
	if err != nil {
		r.errors++
	}
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "ip:192.0.2.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := limiter.Allow(ctx, "ip:192.0.2.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	assert.True(t, mr.Exists("portal:ratelimit:ip:192.0.2.1"))
	assert.Equal(t, time.Minute, mr.TTL("portal:ratelimit:ip:192.0.2.1"))

	// The window does not slide on further requests
	mr.FastForward(30 * time.Second)
	limiter.Allow(ctx, "ip:192.0.2.1")
	assert.Equal(t, 30*time.Second, mr.TTL("portal:ratelimit:ip:192.0.2.1"))

	mr.FastForward(31 * time.Second)
	d, err = limiter.Allow(ctx, "ip:192.0.2.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window should allow")
}

func TestDistributedRateLimiter_RemainingAndReset(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "ip:a")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	limiter.Allow(ctx, "ip:a")
	limiter.Allow(ctx, "ip:a")

	remaining, err = limiter.Remaining(ctx, "ip:a")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	ttl, err := limiter.TTL(ctx, "ip:a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	require.NoError(t, limiter.Reset(ctx, "ip:a"))
	remaining, _ = limiter.Remaining(ctx, "ip:a")
	assert.Equal(t, 5, remaining)
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, nil, "")
	observer := &recordingCommands{}
	limiter.SetObserver(observer)

	mr.Close()

	d, err := limiter.Allow(context.Background(), "ip:a")

	assert.Error(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, observer.errors)
	assert.Error(t, limiter.HealthCheck(context.Background()))
}

func TestDistributedRateLimiter_Observer(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, nil, "")
	observer := &recordingCommands{}
	limiter.SetObserver(observer)

	limiter.Allow(context.Background(), "ip:a")
	limiter.Allow(context.Background(), "ip:a")

	assert.Equal(t, []string{"incr", "expire", "incr"}, observer.commands)
	assert.Zero(t, observer.errors)
}

func TestRateLimitMiddleware_Distributed(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "")
	handler := NewRateLimitMiddleware(limiter, nil, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, "/customer-portal", nil)
		r.RemoteAddr = "203.0.113.8:4000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
