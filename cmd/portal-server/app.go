package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/billingportal/pkg/api"
	"github.com/platinummonkey/billingportal/pkg/billing"
	"github.com/platinummonkey/billingportal/pkg/config"
	"github.com/platinummonkey/billingportal/pkg/identity"
	"github.com/platinummonkey/billingportal/pkg/middleware"
	"github.com/platinummonkey/billingportal/pkg/observability"
	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const healthReadHeaderTimeout = 5 * time.Second

// app holds the assembled servers and everything that must be released on shutdown
type app struct {
	logger   *observability.Logger
	service  *portal.Service
	api      *api.Server
	health   *http.Server
	cache    *billing.CachedDirectory
	shutdown *observability.ShutdownManager
}

// newApp wires the portal service and its servers from cfg. Missing secrets
// and unusable dependencies do not fail start-up; they become the service's
// configuration error so every request reports a configuration fault.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{
		logger:   logger,
		shutdown: observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout),
	}

	// Metrics
	registry := prometheus.NewRegistry()
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
	}
	recorders := observability.Recorders{otelMetrics}
	cacheObservers := observability.CacheObservers{otelMetrics}
	limitObservers := observability.RateLimitObservers{otelMetrics}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		recorders = append(recorders, metrics)
		cacheObservers = append(cacheObservers, metrics)
		limitObservers = append(limitObservers, metrics)
	}

	var configErrs []error
	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		logger.WithField("missing", missing).Warn("Required secrets are not set; portal requests will fail")
		configErrs = append(configErrs, cfg.CheckSecrets())
	}

	// Identity
	verifier, err := identity.NewVerifier(ctx, cfg.IdentityVerifierConfig())
	if err != nil {
		logger.WithError(err).WithField("mode", cfg.Identity.Mode).Warn("Identity verifier unavailable")
		configErrs = append(configErrs, fmt.Errorf("identity verifier: %w", err))
	}

	// Billing provider
	var (
		directory portal.CustomerDirectory
		issuer    portal.SessionIssuer
	)
	stripeClient, err := billing.NewStripeClient(cfg.StripeConfig(logger))
	if err != nil {
		logger.WithError(err).Warn("Billing provider unavailable")
		configErrs = append(configErrs, fmt.Errorf("billing provider: %w", err))
	} else {
		directory, issuer = stripeClient, stripeClient
		if cfg.Billing.CacheTTL > 0 {
			a.cache = billing.NewCachedDirectory(stripeClient, billing.CacheConfig{
				Size:          cfg.Billing.CacheSize,
				TTL:           cfg.Billing.CacheTTL,
				LookupTimeout: cfg.Portal.LookupTimeout,
			})
			a.cache.SetObserver(cacheObservers)
			directory = a.cache
		}
	}

	a.service = portal.NewService(portal.Options{
		Verifier:       verifier,
		Directory:      directory,
		Issuer:         issuer,
		MatchPolicy:    cfg.Portal.MatchPolicy,
		ReturnPath:     cfg.Portal.ReturnPath,
		FallbackOrigin: cfg.Portal.DefaultOrigin,
		VerifyTimeout:  cfg.Portal.VerifyTimeout,
		LookupTimeout:  cfg.Portal.LookupTimeout,
		SessionTimeout: cfg.Portal.SessionTimeout,
		ConfigError:    errors.Join(configErrs...),
		Recorder:       recorders,
		Logger:         logger.FieldLogger(),
	})

	// Redis is optional and only backs the rate limiter
	var redisClient *redis.Client
	if cfg.Portal.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Portal.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid PORTAL_REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		a.shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}

	rateLimit, err := a.rateLimit(ctx, cfg, redisClient, metrics, limitObservers)
	if err != nil {
		return nil, err
	}

	if err := a.schedulePurge(cfg.Billing.CachePurgeSchedule); err != nil {
		return nil, err
	}

	proxies, err := cfg.Server.Proxies()
	if err != nil {
		return nil, fmt.Errorf("invalid PORTAL_TRUSTED_PROXIES: %w", err)
	}

	a.api = api.NewServer(api.ServerConfig{
		Addr:           cfg.Server.Addr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		TrustedProxies: proxies,
	}, api.NewPortalHandlers(a.service, cfg.Portal.ErrorStatus), logger, metrics, rateLimit)

	checker := observability.NewHealthChecker(redisClient, version)
	checker.AddCheck("configuration", false, func(context.Context) error {
		return a.service.ConfigError()
	})
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	a.health = &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: healthReadHeaderTimeout,
	}

	a.shutdown.AddServer(a.api.HTTPServer())
	a.shutdown.AddServer(a.health)

	return a, nil
}

// rateLimit returns nil when rate limiting is disabled
func (a *app) rateLimit(ctx context.Context, cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics, observer middleware.RateLimitObserver) (*middleware.RateLimitMiddleware, error) {
	limitCfg := middleware.PerMinute(cfg.Portal.RateLimitPerMinute)
	if limitCfg == nil {
		a.logger.Info("Rate limiting disabled")
		return nil, nil
	}

	var limiter middleware.Limiter
	if redisClient != nil {
		distributed := middleware.NewDistributedRateLimiter(redisClient, limitCfg, "")
		if metrics != nil {
			distributed.SetObserver(metrics)
		}
		limiter = distributed
		a.logger.Infof("Rate limiting %d requests per minute in Redis", cfg.Portal.RateLimitPerMinute)
	} else {
		memory := middleware.NewRateLimiter(limitCfg)
		cleanupCtx, cancel := context.WithCancel(ctx)
		memory.StartCleanup(cleanupCtx, a.logger)
		a.shutdown.RegisterShutdownFunc(func(context.Context) error {
			cancel()
			return nil
		})
		limiter = memory
		a.logger.Infof("Rate limiting %d requests per minute in memory", cfg.Portal.RateLimitPerMinute)
	}

	return middleware.NewRateLimitMiddleware(limiter, a.logger, observer), nil
}

// schedulePurge empties the customer cache on schedule. It does nothing
// without a schedule or a cache.
func (a *app) schedulePurge(schedule string) error {
	if schedule == "" || a.cache == nil {
		return nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		defer observability.RecoverPanic(a.logger, "customer cache purge")
		stats := a.cache.Stats()
		a.cache.Purge()
		a.logger.WithFields(map[string]interface{}{
			"entries": stats.Entries,
			"hits":    stats.Hits,
			"misses":  stats.Misses,
		}).Info("Customer cache purged")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule customer cache purge: %w", err)
	}

	scheduler.Start()
	a.logger.Infof("Customer cache purge schedule: %s", schedule)

	a.shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return nil
}

// run serves both servers until a signal arrives or a server fails, then shuts down
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range []*http.Server{a.api.HTTPServer(), a.health} {
		g.Go(func() error {
			a.logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}
