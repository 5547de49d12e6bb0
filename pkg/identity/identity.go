package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mode selects the verifier implementation
type Mode string

const (
	ModeGoTrue Mode = "gotrue"
	ModeJWT    Mode = "jwt"
	ModeOIDC   Mode = "oidc"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeGoTrue, ModeJWT, ModeOIDC:
		return true
	}
	return false
}

var (
	// ErrMissingBaseURL is returned when the identity service URL is not configured
	ErrMissingBaseURL = errors.New("identity service URL is not configured")
	// ErrMissingAnonKey is returned when the identity service API key is not configured
	ErrMissingAnonKey = errors.New("identity service API key is not configured")
	// ErrMissingSecret is returned when the JWT signing secret is not configured
	ErrMissingSecret = errors.New("JWT secret is not configured")
	// ErrMissingIssuer is returned when the OIDC issuer is not configured
	ErrMissingIssuer = errors.New("OIDC issuer is not configured")
)

const defaultHTTPTimeout = 30 * time.Second

// Config selects and configures a verifier
type Config struct {
	Mode   Mode
	GoTrue GoTrueConfig
	JWT    JWTConfig
	OIDC   OIDCConfig
}

// NewVerifier builds the verifier named by cfg.Mode. On error the returned
// verifier is a nil interface, not a typed nil pointer.
func NewVerifier(ctx context.Context, cfg Config) (portal.IdentityVerifier, error) {
	switch cfg.Mode {
	case ModeGoTrue, "":
		v, err := NewGoTrueVerifier(cfg.GoTrue)
		if err != nil {
			return nil, err
		}
		return v, nil
	case ModeJWT:
		v, err := NewJWTVerifier(cfg.JWT)
		if err != nil {
			return nil, err
		}
		return v, nil
	case ModeOIDC:
		v, err := NewOIDCVerifier(ctx, cfg.OIDC)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}

// rejected wraps a verification failure so callers see portal.ErrNoIdentity
func rejected(reason error) error {
	if reason == nil {
		return portal.ErrNoIdentity
	}
	return fmt.Errorf("%w: %v", portal.ErrNoIdentity, reason)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
