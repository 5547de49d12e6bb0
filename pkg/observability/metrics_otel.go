package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/billingportal"

// OTelMetrics mirrors the portal flow metrics as OpenTelemetry instruments,
// exported through the global meter provider
type OTelMetrics struct {
	sessionRequests metric.Int64Counter
	stageDuration   metric.Float64Histogram
	rateLimited     metric.Int64Counter
	cacheLookups    metric.Int64Counter
}

var _ portal.Recorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates the portal instruments
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.sessionRequests, err = meter.Int64Counter(
		"portal.session.requests",
		metric.WithDescription("Portal session requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session requests counter: %w", err)
	}

	m.stageDuration, err = meter.Float64Histogram(
		"portal.stage.duration",
		metric.WithDescription("Duration of each external call in the portal flow"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	m.rateLimited, err = meter.Int64Counter(
		"portal.rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limited counter: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"portal.customer_cache.lookups",
		metric.WithDescription("Customer cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}

	return m, nil
}

// ObserveStage records the duration of one external call
func (m *OTelMetrics) ObserveStage(stage portal.Stage, duration time.Duration, err error) {
	m.stageDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("portal.stage", string(stage)),
		attribute.Bool("error", err != nil),
	))
}

// ObserveOutcome counts a finished portal request
func (m *OTelMetrics) ObserveOutcome(err *portal.AccessError) {
	attrs := []attribute.KeyValue{
		attribute.String("portal.outcome", "success"),
	}
	if err != nil {
		attrs = []attribute.KeyValue{
			attribute.String("portal.outcome", string(err.Kind)),
			attribute.String("portal.fault", string(err.Fault)),
		}
	}
	m.sessionRequests.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RateLimited counts a rejected request
func (m *OTelMetrics) RateLimited() {
	m.rateLimited.Add(context.Background(), 1)
}

// CacheHit counts a customer lookup served from cache
func (m *OTelMetrics) CacheHit() {
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "hit")))
}

// CacheMiss counts a customer lookup that reached the provider
func (m *OTelMetrics) CacheMiss() {
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", "miss")))
}

// Recorders fans portal events out to several recorders
type Recorders []portal.Recorder

// ObserveStage forwards to every recorder
func (rs Recorders) ObserveStage(stage portal.Stage, duration time.Duration, err error) {
	for _, r := range rs {
		r.ObserveStage(stage, duration, err)
	}
}

// ObserveOutcome forwards to every recorder
func (rs Recorders) ObserveOutcome(err *portal.AccessError) {
	for _, r := range rs {
		r.ObserveOutcome(err)
	}
}

// CacheObservers fans cache events out to several observers
type CacheObservers []interface {
	CacheHit()
	CacheMiss()
}

// CacheHit forwards to every observer
func (os CacheObservers) CacheHit() {
	for _, o := range os {
		o.CacheHit()
	}
}

// CacheMiss forwards to every observer
func (os CacheObservers) CacheMiss() {
	for _, o := range os {
		o.CacheMiss()
	}
}

// RateLimitObservers fans rate limit rejections out to several observers
type RateLimitObservers []interface{ RateLimited() }

// RateLimited forwards to every observer
func (os RateLimitObservers) RateLimited() {
	for _, o := range os {
		o.RateLimited()
	}
}
