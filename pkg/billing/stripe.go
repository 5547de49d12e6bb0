package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// defaultHTTPTimeout caps a single Stripe call when the caller's context has no deadline
const defaultHTTPTimeout = 30 * time.Second

// ProviderError carries the message Stripe returned for a failed call
type ProviderError struct {
	Op         string
	Message    string
	StatusCode int
	Code       string
	Err        error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StripeClient looks up customers and creates billing portal sessions in Stripe
type StripeClient struct {
	client *stripe.Client
}

var (
	_ portal.CustomerDirectory = (*StripeClient)(nil)
	_ portal.SessionIssuer     = (*StripeClient)(nil)
)

// NewStripeClient creates a Stripe-backed client
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingSecretKey
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger(cfg.Logger),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}

	client := stripe.NewClient(cfg.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig)))
	return &StripeClient{client: client}, nil
}

func leveledLogger(l Logger) stripe.LeveledLoggerInterface {
	if l == nil {
		return &stripe.LeveledLogger{Level: stripe.LevelNull}
	}
	return sdkLogger{l}
}

// sdkLogger demotes the SDK's per-request Info lines to Debug
type sdkLogger struct {
	Logger
}

func (l sdkLogger) Infof(format string, v ...interface{}) {
	l.Debugf(format, v...)
}

// FindCustomers returns at most limit customers whose email equals email,
// in Stripe's natural list order
func (c *StripeClient) FindCustomers(ctx context.Context, email string, limit int) ([]portal.Customer, error) {
	if limit <= 0 {
		limit = 1
	}

	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Limit = stripe.Int64(int64(limit))

	customers := make([]portal.Customer, 0, limit)
	for cust, err := range c.client.V1Customers.List(ctx, params) {
		if err != nil {
			return nil, providerError("list customers", err)
		}
		customers = append(customers, portal.Customer{
			ID:    cust.ID,
			Email: cust.Email,
			Name:  cust.Name,
		})
		if len(customers) >= limit {
			break
		}
	}

	return customers, nil
}

// CreatePortalSession opens a hosted billing portal session for customerID.
// The call is made exactly once.
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*portal.Session, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	sess, err := c.client.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return nil, providerError("create billing portal session", err)
	}

	return &portal.Session{
		ID:        sess.ID,
		URL:       sess.URL,
		ReturnURL: sess.ReturnURL,
	}, nil
}

// providerError keeps Stripe's own message when there is one, so callers see
// the same text the Stripe dashboard shows
func providerError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := stripeErr.Msg
		if msg == "" {
			msg = fmt.Sprintf("stripe %s failed with status %d", op, stripeErr.HTTPStatusCode)
		}
		return &ProviderError{
			Op:         op,
			Message:    msg,
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Err:        err,
		}
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
