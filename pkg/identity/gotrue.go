package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/platinummonkey/billingportal/pkg/portal"
)

const maxErrorBody = 4 << 10

// GoTrueConfig configures a GoTrueVerifier
type GoTrueConfig struct {
	// BaseURL is the Supabase project URL, e.g. https://abc.supabase.co
	BaseURL string
	// AnonKey is the project's public API key, sent as the apikey header
	AnonKey    string
	HTTPClient *http.Client
}

// GoTrueVerifier resolves tokens against a Supabase (GoTrue) auth server
type GoTrueVerifier struct {
	userURL string
	anonKey string
	client  *http.Client
}

var _ portal.IdentityVerifier = (*GoTrueVerifier)(nil)

type goTrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type goTrueError struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func (e goTrueError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Msg != "":
		return e.Msg
	default:
		return e.ErrorDescription
	}
}

// NewGoTrueVerifier creates a verifier for the auth server at cfg.BaseURL
func NewGoTrueVerifier(cfg GoTrueConfig) (*GoTrueVerifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, ErrMissingAnonKey
	}

	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}

	return &GoTrueVerifier{
		userURL: base + "/auth/v1/user",
		anonKey: cfg.AnonKey,
		client:  client,
	}, nil
}

// Verify asks the auth server for the user that owns token
func (v *GoTrueVerifier) Verify(ctx context.Context, token string) (*portal.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("apikey", v.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return nil, rejected(readGoTrueError(resp))
	default:
		return nil, fmt.Errorf("identity service returned %d: %v", resp.StatusCode, readGoTrueError(resp))
	}

	var user goTrueUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if user.ID == "" {
		return nil, rejected(fmt.Errorf("identity response has no user id"))
	}

	return &portal.Identity{ID: user.ID, Email: user.Email}, nil
}

func readGoTrueError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e goTrueError
	if err := json.Unmarshal(body, &e); err == nil && e.text() != "" {
		return fmt.Errorf("%s", e.text())
	}
	if len(body) > 0 {
		return fmt.Errorf("%s", strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("%s", resp.Status)
}
