package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoTrueServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNewGoTrueVerifier_Validation(t *testing.T) {
	_, err := NewGoTrueVerifier(GoTrueConfig{AnonKey: "anon"})
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = NewGoTrueVerifier(GoTrueConfig{BaseURL: "https://abc.supabase.co"})
	assert.ErrorIs(t, err, ErrMissingAnonKey)

	v, err := NewGoTrueVerifier(GoTrueConfig{BaseURL: "https://abc.supabase.co/", AnonKey: "anon"})
	require.NoError(t, err)
	assert.Equal(t, "https://abc.supabase.co/auth/v1/user", v.userURL)
}

func TestGoTrueVerifier_Verify(t *testing.T) {
	var gotPath, gotAPIKey, gotAuth string
	server := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		switch r.Header.Get("Authorization") {
		case "Bearer valid-abc":
			_, _ = w.Write([]byte(`{"id":"user-1","email":"a@x.com","aud":"authenticated","role":"authenticated"}`))
		case "Bearer phone-only":
			_, _ = w.Write([]byte(`{"id":"user-2","email":"","phone":"+15555550100"}`))
		case "Bearer expired":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":403,"error_code":"bad_jwt","msg":"invalid JWT: token is expired"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream unavailable`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid claim: missing sub claim"}`))
		}
	})

	v, err := NewGoTrueVerifier(GoTrueConfig{BaseURL: server.URL, AnonKey: "anon-key", HTTPClient: server.Client()})
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		identity, err := v.Verify(context.Background(), "valid-abc")

		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.ID)
		assert.Equal(t, "a@x.com", identity.Email)
		assert.Equal(t, "/auth/v1/user", gotPath)
		assert.Equal(t, "anon-key", gotAPIKey)
		assert.Equal(t, "Bearer valid-abc", gotAuth)
	})

	t.Run("user without email", func(t *testing.T) {
		identity, err := v.Verify(context.Background(), "phone-only")

		require.NoError(t, err)
		assert.Equal(t, "user-2", identity.ID)
		assert.Empty(t, identity.Email)
	})

	t.Run("rejected tokens", func(t *testing.T) {
		for _, token := range []string{"expired", "garbage"} {
			identity, err := v.Verify(context.Background(), token)

			assert.Nil(t, identity)
			assert.ErrorIs(t, err, portal.ErrNoIdentity, token)
		}

		_, err := v.Verify(context.Background(), "expired")
		assert.Contains(t, err.Error(), "token is expired")
	})

	t.Run("server failure is not a rejection", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "broken")

		require.Error(t, err)
		assert.False(t, errors.Is(err, portal.ErrNoIdentity))
		assert.Contains(t, err.Error(), "502")
	})
}

func TestGoTrueVerifier_Timeout(t *testing.T) {
	server := newGoTrueServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	v, err := NewGoTrueVerifier(GoTrueConfig{BaseURL: server.URL, AnonKey: "anon", HTTPClient: server.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = v.Verify(ctx, "valid-abc")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, portal.ErrNoIdentity))
}

func TestGoTrueVerifier_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	v, err := NewGoTrueVerifier(GoTrueConfig{BaseURL: url, AnonKey: "anon"})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "valid-abc")

	require.Error(t, err)
	assert.False(t, errors.Is(err, portal.ErrNoIdentity))
}
