// Package middleware provides per-client rate limiting for the portal endpoint.
//
// Creating a portal session is not idempotent, so requests are limited per
// client IP before they reach the handler. Two limiters are available:
//
//   - RateLimiter: in-process token bucket
//   - DistributedRateLimiter: fixed window counter in Redis, shared across instances
//
// Both satisfy Limiter and plug into RateLimitMiddleware:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.PerMinute(30), "")
//	rl := middleware.NewRateLimitMiddleware(limiter, logger, metrics)
//	handler := rl.Handler(router)
//
// Rejected requests get 429 {"error":"rate limit exceeded"} with Retry-After
// and X-RateLimit-* headers. The Redis limiter fails open.
package middleware
