package billing

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrMissingSecretKey is returned when no Stripe API key is configured
	ErrMissingSecretKey = errors.New("stripe secret key is not configured")
	// ErrMissingCustomerID is returned when a session is requested without a customer
	ErrMissingCustomerID = errors.New("customer id is required")
)

// Logger is the subset of a leveled logger the Stripe SDK writes to.
// *logrus.Logger and *observability.Logger both satisfy it.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// StripeConfig configures a StripeClient
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_...)
	SecretKey string
	// APIURL overrides the Stripe API base URL. Used for stripe-mock and tests.
	APIURL string
	// HTTPClient is used for all Stripe calls. Defaults to an otelhttp-instrumented client.
	HTTPClient *http.Client
	Logger     Logger
}

// CacheConfig configures a CachedDirectory
type CacheConfig struct {
	Size int
	TTL  time.Duration

	// LookupTimeout bounds a shared upstream lookup. It is detached from
	// any single caller, so this is the only deadline it sees.
	LookupTimeout time.Duration
}

// CacheStats is a snapshot of CachedDirectory counters
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// CacheObserver receives cache hit and miss events
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}
