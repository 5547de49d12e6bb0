// Package billing connects the portal flow to Stripe.
//
// # Overview
//
// StripeClient implements both portal.CustomerDirectory and portal.SessionIssuer.
// It looks customers up by email and opens hosted billing-portal sessions for
// them. Customers are never created and sessions are never stored.
//
// Network retries inside the Stripe SDK are disabled. A session create that
// fails is reported once and left to the caller to retry.
//
// # Customer Cache
//
// CachedDirectory wraps any portal.CustomerDirectory with an expiring LRU.
// Only non-empty lookups are cached, so a customer created in Stripe after a
// miss is found on the next request. Concurrent lookups for the same email
// share one upstream call.
//
// # Usage Example
//
//	client, err := billing.NewStripeClient(billing.StripeConfig{
//		SecretKey: os.Getenv("STRIPE_SECRET_KEY"),
//		Logger:    logger,
//	})
//	if err != nil {
//		return err
//	}
//
//	directory := billing.NewCachedDirectory(client, billing.CacheConfig{
//		Size: 1024,
//		TTL:  5 * time.Minute,
//	})
//
// # Related Packages
//
//   - pkg/portal: The access flow that consumes these adapters
//   - pkg/observability: Cache hit and miss counters
package billing
