package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/platinummonkey/billingportal/pkg/portal"
	"golang.org/x/oauth2"
)

// OIDCConfig configures an OIDCVerifier
type OIDCConfig struct {
	IssuerURL string
	// ClientID is the expected audience of ID tokens
	ClientID string
	// SkipClientIDCheck accepts tokens issued for any client of the issuer
	SkipClientIDCheck bool
	// UserInfo enables the userinfo fallback for tokens that are not ID tokens
	UserInfo   bool
	HTTPClient *http.Client
}

// OIDCVerifier verifies tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	client      *http.Client
	useUserInfo bool
}

var _ portal.IdentityVerifier = (*OIDCVerifier)(nil)

type idTokenClaims struct {
	Email string `json:"email"`
}

// NewOIDCVerifier discovers the provider at cfg.IssuerURL
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	issuer := strings.TrimSpace(cfg.IssuerURL)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	if cfg.ClientID == "" && !cfg.SkipClientIDCheck {
		return nil, fmt.Errorf("OIDC client id is required unless the client id check is skipped")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	ctx = oidc.ClientContext(ctx, client)

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: cfg.SkipClientIDCheck,
	})

	return &OIDCVerifier{
		provider:    provider,
		verifier:    verifier,
		client:      client,
		useUserInfo: cfg.UserInfo,
	}, nil
}

// Verify accepts a signed ID token, or an access token the provider's
// userinfo endpoint recognises when the fallback is enabled
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*portal.Identity, error) {
	ctx = oidc.ClientContext(ctx, v.client)

	idToken, err := v.verifier.Verify(ctx, token)
	if err == nil {
		var claims idTokenClaims
		if err := idToken.Claims(&claims); err != nil {
			return nil, rejected(fmt.Errorf("failed to parse claims: %w", err))
		}
		return &portal.Identity{ID: idToken.Subject, Email: claims.Email}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !v.useUserInfo {
		return nil, rejected(err)
	}

	return v.fromUserInfo(ctx, token)
}

func (v *OIDCVerifier) fromUserInfo(ctx context.Context, token string) (*portal.Identity, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	info, err := v.provider.UserInfo(ctx, tokenSource)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("userinfo request failed: %w", err)
		}
		return nil, rejected(err)
	}
	if info.Subject == "" {
		return nil, rejected(fmt.Errorf("userinfo response has no subject"))
	}

	return &portal.Identity{ID: info.Subject, Email: info.Email}, nil
}
