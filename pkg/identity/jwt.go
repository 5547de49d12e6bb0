package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/billingportal/pkg/portal"
)

// DefaultAudience is the audience Supabase puts on signed-in user tokens
const DefaultAudience = "authenticated"

// JWTConfig configures a JWTVerifier
type JWTConfig struct {
	Secret string
	// Audience is checked when non-empty
	Audience string
	// Issuer is checked when non-empty
	Issuer string
	Leeway time.Duration
}

// JWTVerifier validates HS256 access tokens locally
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var _ portal.IdentityVerifier = (*JWTVerifier)(nil)

// accessClaims is the claim set of a Supabase access token
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTVerifier creates a verifier for tokens signed with cfg.Secret
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks the token signature and claims. Any failure is a rejection.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*portal.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &accessClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, rejected(err)
	}
	if claims.Subject == "" {
		return nil, rejected(fmt.Errorf("token has no subject"))
	}

	return &portal.Identity{ID: claims.Subject, Email: claims.Email}, nil
}
