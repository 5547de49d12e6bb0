package billing

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/billingportal/pkg/portal"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheSize is the customer cache capacity used when none is configured
	DefaultCacheSize = 1024
	// DefaultLookupTimeout bounds a shared upstream lookup when none is configured
	DefaultLookupTimeout = 10 * time.Second
)

// CachedDirectory caches successful customer lookups in memory
type CachedDirectory struct {
	next     portal.CustomerDirectory
	cache    *lru.LRU[string, []portal.Customer]
	group    singleflight.Group
	observer CacheObserver
	timeout  time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

var _ portal.CustomerDirectory = (*CachedDirectory)(nil)

// NewCachedDirectory wraps next with an expiring LRU.
// A zero TTL keeps entries until they are evicted by size.
func NewCachedDirectory(next portal.CustomerDirectory, cfg CacheConfig) *CachedDirectory {
	size := cfg.Size
	if size <= 0 {
		size = DefaultCacheSize
	}

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	return &CachedDirectory{
		next:    next,
		cache:   lru.NewLRU[string, []portal.Customer](size, nil, cfg.TTL),
		timeout: timeout,
	}
}

// SetObserver registers an observer for hit and miss events
func (d *CachedDirectory) SetObserver(o CacheObserver) {
	d.observer = o
}

// FindCustomers serves from cache when possible. Empty results and errors are
// never cached.
//
// Concurrent misses for the same key share one upstream call. That call runs
// detached from every caller's cancellation, so a caller giving up only stops
// its own wait.
func (d *CachedDirectory) FindCustomers(ctx context.Context, email string, limit int) ([]portal.Customer, error) {
	key := cacheKey(email, limit)

	if customers, ok := d.cache.Get(key); ok {
		d.recordHit()
		return copyCustomers(customers), nil
	}
	d.recordMiss()

	ch := d.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		customers, err := d.next.FindCustomers(lookupCtx, email, limit)
		if err != nil {
			return nil, err
		}
		if len(customers) > 0 {
			d.cache.Add(key, copyCustomers(customers))
		}
		return customers, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyCustomers(res.Val.([]portal.Customer)), nil
	}
}

// Invalidate drops cached lookups for email
func (d *CachedDirectory) Invalidate(email string) {
	prefix := normalizeEmail(email) + "|"
	for _, key := range d.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			d.cache.Remove(key)
		}
	}
}

// Purge drops every cached lookup
func (d *CachedDirectory) Purge() {
	d.cache.Purge()
}

// Stats returns cache counters
func (d *CachedDirectory) Stats() CacheStats {
	return CacheStats{
		Hits:    d.hits.Load(),
		Misses:  d.misses.Load(),
		Entries: d.cache.Len(),
	}
}

func (d *CachedDirectory) recordHit() {
	d.hits.Add(1)
	if d.observer != nil {
		d.observer.CacheHit()
	}
}

func (d *CachedDirectory) recordMiss() {
	d.misses.Add(1)
	if d.observer != nil {
		d.observer.CacheMiss()
	}
}

// Stripe matches email exactly, so the key keeps case and only trims space
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func cacheKey(email string, limit int) string {
	return fmt.Sprintf("%s|%d", normalizeEmail(email), limit)
}

func copyCustomers(in []portal.Customer) []portal.Customer {
	if in == nil {
		return nil
	}
	out := make([]portal.Customer, len(in))
	copy(out, in)
	return out
}
