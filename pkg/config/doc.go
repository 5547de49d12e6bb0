// Package config loads the billing portal configuration with Viper.
//
// # Overview
//
// Settings come from environment variables, optionally layered over a config
// file named by PORTAL_CONFIG_FILE (any format Viper reads, keyed by the same
// variable names). Environment variables win.
//
// # Configuration Structure
//
// Server settings:
//
//	PORTAL_HOST="0.0.0.0"
//	PORTAL_PORT="8080"
//	PORTAL_HEALTH_PORT="9090"
//
// Identity settings:
//
//	PORTAL_IDENTITY_MODE="gotrue"   # gotrue, jwt, oidc
//	SUPABASE_URL="https://project.supabase.co"
//	SUPABASE_ANON_KEY="..."
//	SUPABASE_JWT_SECRET="..."       # jwt mode
//
// Billing settings:
//
//	STRIPE_SECRET_KEY="sk_live_..."
//	PORTAL_CUSTOMER_CACHE_TTL="5m"  # 0 disables the cache
//
// Portal settings:
//
//	PORTAL_CUSTOMER_MATCH="first"   # first, strict
//	PORTAL_ERROR_STATUS="legacy"    # legacy, typed
//	PORTAL_RATE_LIMIT_PER_MINUTE="30"
//
// # Secrets
//
// Load does not fail on missing secrets unless PORTAL_REQUIRE_SECRETS is true.
// MissingSecrets lists what is absent so the server can start and answer
// every request with a configuration fault instead.
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.CheckSecrets(); err != nil {
//		logger.WithError(err).Error("billing portal is not configured")
//	}
package config
