package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/billingportal/pkg/httputil"
	"github.com/platinummonkey/billingportal/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the per-client default: 30 session requests a minute
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}
}

// PerMinute returns a config allowing n requests a minute, or nil when n <= 0
func PerMinute(n int) *RateLimitConfig {
	if n <= 0 {
		return nil
	}
	return &RateLimitConfig{
		RequestsPerWindow: n,
		WindowDuration:    time.Minute,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Decision is the result of a single rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Limiter decides whether a request for key may proceed.
// A Limiter that cannot reach its backing store returns an allowing
// Decision together with the error.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter implements in-process rate limiting using a token bucket per key
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil || config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// refillInterval is the time it takes to earn one token
func (rl *RateLimiter) refillInterval() time.Duration {
	return rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
}

// Allow takes a token from key's bucket if one is available
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     rl.config.capacity(),
			lastUpdate: rl.now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	interval := rl.refillInterval()

	// Refill whole tokens; lastUpdate only advances by the time they cost
	if earned := int(now.Sub(b.lastUpdate) / interval); earned > 0 {
		b.tokens += earned
		b.lastUpdate = b.lastUpdate.Add(time.Duration(earned) * interval)
		if b.tokens >= rl.config.capacity() {
			b.tokens = rl.config.capacity()
			b.lastUpdate = now
		}
	}

	d := Decision{
		Limit: rl.config.RequestsPerWindow,
		Reset: now.Add(time.Duration(rl.config.capacity()-b.tokens) * interval),
	}

	if b.tokens > 0 {
		b.tokens--
		d.Allowed = true
		d.Remaining = b.tokens
		return d, nil
	}

	d.RetryAfter = b.lastUpdate.Add(interval).Sub(now)
	return d, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.tokens
}

// Cleanup removes buckets that have been idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine that runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context, logger *observability.Logger) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				func() {
					defer observability.RecoverPanic(logger, "rate limiter cleanup")
					rl.Cleanup()
				}()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitObserver is notified of every rejected request
type RateLimitObserver interface {
	RateLimited()
}

// RateLimitMiddleware limits requests per client IP. The IP is the one
// resolved by httputil.RequestContextMiddleware when that runs first.
type RateLimitMiddleware struct {
	limiter  Limiter
	logger   *observability.Logger
	observer RateLimitObserver
}

// NewRateLimitMiddleware creates a rate limit middleware. A nil limiter disables limiting.
func NewRateLimitMiddleware(limiter Limiter, logger *observability.Logger, observer RateLimitObserver) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:  limiter,
		logger:   logger,
		observer: observer,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	if m == nil || m.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + httputil.RequestClientIP(r)

		d, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
		}

		setRateLimitHeaders(w, d)

		if !d.Allowed {
			if m.observer != nil {
				m.observer.RateLimited()
			}
			if m.logger != nil {
				m.logger.WithField("client_key", key).Debug("rate limit exceeded")
			}
			httputil.WriteTooManyRequests(w, "rate limit exceeded", d.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
}
