package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/billingportal/pkg/httputil"
	"github.com/platinummonkey/billingportal/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		d, err := limiter.Allow(ctx, "ip:192.0.2.1")
		require.NoError(t, err)
		if d.Allowed {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	// One token is earned every 100ms
	clock.Advance(150 * time.Millisecond)
	d, _ := limiter.Allow(ctx, "ip:192.0.2.1")
	if !d.Allowed {
		t.Error("Should allow request after refill")
	}
	d, _ = limiter.Allow(ctx, "ip:192.0.2.1")
	if d.Allowed {
		t.Error("Should only refill one token")
	}
	if d.RetryAfter != 50*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 50ms", d.RetryAfter)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	d, _ := limiter.Allow(ctx, "ip:a")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "ip:a")
	assert.False(t, d.Allowed)

	d, _ = limiter.Allow(ctx, "ip:b")
	assert.True(t, d.Allowed)
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, _ := newTestLimiter(config)

	initial := limiter.Remaining("ip:x")
	if initial != 12 {
		t.Errorf("Initial remaining = %d, want 12", initial)
	}

	d, _ := limiter.Allow(context.Background(), "ip:x")
	if d.Remaining != 11 || limiter.Remaining("ip:x") != 11 {
		t.Errorf("After using 1 token, remaining = %d/%d, want 11", d.Remaining, limiter.Remaining("ip:x"))
	}
	if d.Limit != 10 {
		t.Errorf("Limit = %d, want 10", d.Limit)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 100 * time.Millisecond})

	for _, key := range []string{"a", "b", "c"} {
		limiter.Allow(context.Background(), key)
	}
	if len(limiter.buckets) != 3 {
		t.Errorf("Expected 3 buckets, got %d", len(limiter.buckets))
	}

	clock.Advance(300 * time.Millisecond)
	limiter.Cleanup()

	if len(limiter.buckets) != 0 {
		t.Errorf("Expected 0 buckets after cleanup, got %d", len(limiter.buckets))
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d, _ := limiter.Allow(context.Background(), "ip:shared")
				if d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Allowed %d requests, want 50", allowed)
	}
}

func TestNewRateLimiter_InvalidConfig(t *testing.T) {
	for _, cfg := range []*RateLimitConfig{nil, {}, {RequestsPerWindow: 5}} {
		limiter := NewRateLimiter(cfg)
		assert.Equal(t, DefaultRateLimitConfig(), limiter.config)
	}
}

func TestPerMinute(t *testing.T) {
	assert.Nil(t, PerMinute(0))
	assert.Nil(t, PerMinute(-1))
	assert.Equal(t, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, PerMinute(5))
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 20 * time.Millisecond})
	limiter.Allow(context.Background(), "ip:old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter.StartCleanup(ctx, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))

	assert.Eventually(t, func() bool {
		limiter.mu.RLock()
		defer limiter.mu.RUnlock()
		return len(limiter.buckets) == 0
	}, time.Second, 10*time.Millisecond)
}

type countingObserver struct {
	mu      sync.Mutex
	limited int
}

func (o *countingObserver) RateLimited() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limited++
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, errors.New("connection refused")
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	observer := &countingObserver{}
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	mw := NewRateLimitMiddleware(limiter, logger, observer)

	calls := 0
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/customer-portal", nil)
		r.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := send("192.0.2.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	send("192.0.2.1")
	w = send("192.0.2.1")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 2, calls, "rejected request must not reach the handler")
	assert.Equal(t, 1, observer.limited)

	w = send("192.0.2.2")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	var nilMW *RateLimitMiddleware
	assert.NotNil(t, nilMW.Handler(next))

	mw := NewRateLimitMiddleware(nil, nil, nil)
	w := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	mw := NewRateLimitMiddleware(failingLimiter{}, logger, nil)

	called := false
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r = r.WithContext(observability.WithLogger(r.Context(), logger))
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, called)
	assert.Contains(t, buf.String(), "rate limiter unavailable")
}

func TestRateLimitMiddleware_ForwardedForKeys(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	trusted, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name        string
		proxies     *httputil.TrustedProxies
		remoteAddr  string
		wantAllowed int
	}{
		{"forged headers from a direct client share one bucket", nil, "198.51.100.7:4000", 1},
		{"forged headers from an untrusted peer share one bucket", trusted, "198.51.100.7:4000", 1},
		{"trusted proxy reports distinct clients", trusted, "10.0.0.2:4000", 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _ := newTestLimiter(PerMinute(1))
			mw := NewRateLimitMiddleware(limiter, logger, nil)
			handler := httputil.Chain(httputil.RequestContextMiddleware(tt.proxies), mw.Handler)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			)

			allowed := 0
			for i := 0; i < 20; i++ {
				r := httptest.NewRequest(http.MethodPost, "/customer-portal", nil)
				r.RemoteAddr = tt.remoteAddr
				r.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i+1))
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, r)
				if w.Code == http.StatusOK {
					allowed++
				}
			}

			assert.Equal(t, tt.wantAllowed, allowed)
		})
	}
}
