package api

import (
	"net/http"
	"testing"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StatusPolicy
		wantErr bool
	}{
		{"", StatusLegacy, false},
		{"legacy", StatusLegacy, false},
		{" Typed ", StatusTyped, false},
		{"strict", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatusPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusPolicy_Status(t *testing.T) {
	aerr := func(kind portal.Kind, fault portal.Fault) *portal.AccessError {
		return &portal.AccessError{Kind: kind, Fault: fault}
	}

	tests := []struct {
		name   string
		err    *portal.AccessError
		legacy int
		typed  int
	}{
		{"success", nil, http.StatusOK, http.StatusOK},
		{"unauthorized", aerr(portal.KindUnauthorized, portal.FaultCaller), 500, http.StatusUnauthorized},
		{"no email", aerr(portal.KindIdentityIncomplete, portal.FaultCaller), 500, http.StatusUnprocessableEntity},
		{"no customer", aerr(portal.KindCustomerNotFound, portal.FaultCaller), 500, http.StatusNotFound},
		{"ambiguous", aerr(portal.KindAmbiguousCustomer, portal.FaultCaller), 500, http.StatusConflict},
		{"session failed", aerr(portal.KindSessionCreationFailed, portal.FaultDependency), 500, http.StatusBadGateway},
		{"configuration", aerr(portal.KindConfigurationFault, portal.FaultConfiguration), 500, http.StatusServiceUnavailable},
		{"identity service down", aerr(portal.KindUnauthorized, portal.FaultDependency), 500, http.StatusBadGateway},
		{"lookup failed", aerr(portal.KindCustomerNotFound, portal.FaultDependency), 500, http.StatusBadGateway},
		{"lookup timed out", aerr(portal.KindCustomerNotFound, portal.FaultTimeout), 500, http.StatusGatewayTimeout},
		{"verify timed out", aerr(portal.KindUnauthorized, portal.FaultTimeout), 500, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.legacy, StatusLegacy.Status(tt.err))
			assert.Equal(t, tt.typed, StatusTyped.Status(tt.err))
		})
	}
}
