package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/billingportal/pkg/portal"
)

// StatusPolicy maps access failures to HTTP status codes
type StatusPolicy string

const (
	// StatusLegacy answers every failure with 500, matching existing clients
	StatusLegacy StatusPolicy = "legacy"
	// StatusTyped answers with a status that reflects the failure kind and fault
	StatusTyped StatusPolicy = "typed"
)

// ParseStatusPolicy parses a policy name; empty means StatusLegacy
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch p := StatusPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return StatusLegacy, nil
	case StatusLegacy, StatusTyped:
		return p, nil
	default:
		return "", fmt.Errorf("unknown error status policy %q (want %q or %q)", s, StatusLegacy, StatusTyped)
	}
}

var kindStatus = map[portal.Kind]int{
	portal.KindUnauthorized:          http.StatusUnauthorized,
	portal.KindIdentityIncomplete:    http.StatusUnprocessableEntity,
	portal.KindCustomerNotFound:      http.StatusNotFound,
	portal.KindAmbiguousCustomer:     http.StatusConflict,
	portal.KindSessionCreationFailed: http.StatusBadGateway,
	portal.KindConfigurationFault:    http.StatusServiceUnavailable,
}

// Status returns the HTTP status for err under policy p
func (p StatusPolicy) Status(err *portal.AccessError) int {
	if err == nil {
		return http.StatusOK
	}
	if p != StatusTyped {
		return http.StatusInternalServerError
	}

	// The fault outranks the kind: a lookup that timed out is not a missing customer
	switch err.Fault {
	case portal.FaultTimeout:
		return http.StatusGatewayTimeout
	case portal.FaultDependency:
		return http.StatusBadGateway
	}

	if status, ok := kindStatus[err.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
