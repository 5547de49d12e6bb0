package portal

import (
	"context"
	"time"
)

// Identity is the caller resolved from a bearer credential.
// It lives for the duration of a single request and is never cached.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Customer is a billing-provider customer record
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Session is a provider-issued portal session. Only URL is returned to callers.
type Session struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	ReturnURL string `json:"return_url,omitempty"`
}

// Request carries the inbound values the service needs
type Request struct {
	// Authorization is the raw Authorization header value
	Authorization string
	// Origin is the caller's origin, used to build the return URL
	Origin string
}

// Result is the successful outcome of RequestSession
type Result struct {
	URL string `json:"url"`
}

// Stage names a state of the portal access state machine
type Stage string

const (
	StageStart     Stage = "start"
	StageVerifying Stage = "verifying"
	StageResolving Stage = "resolving"
	StageIssuing   Stage = "issuing"
	StageSucceeded Stage = "succeeded"
	StageFailed    Stage = "failed"
)

// MatchPolicy controls how multiple customer matches are handled
type MatchPolicy string

const (
	// MatchFirst asks the provider for a single record and takes it.
	// If the provider holds several customers for one email, the first in
	// the provider's natural order wins.
	MatchFirst MatchPolicy = "first"
	// MatchStrict asks for two records and fails with AmbiguousCustomer
	// when more than one comes back.
	MatchStrict MatchPolicy = "strict"
)

// Valid reports whether p is a known policy
func (p MatchPolicy) Valid() bool {
	return p == MatchFirst || p == MatchStrict
}

// lookupLimit returns the number of records to request from the provider
func (p MatchPolicy) lookupLimit() int {
	if p == MatchStrict {
		return 2
	}
	return 1
}

// IdentityVerifier exchanges a bearer credential for an Identity.
//
// Implementations return ErrNoIdentity (possibly wrapped) when the credential
// does not map to a user. Any other error is treated as a dependency failure.
// A nil identity with a nil error is also treated as "no identity".
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// CustomerDirectory looks up billing customers by email
type CustomerDirectory interface {
	FindCustomers(ctx context.Context, email string, limit int) ([]Customer, error)
}

// SessionIssuer creates management-portal sessions
type SessionIssuer interface {
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error)
}

// Recorder receives timing and outcome events from the service.
// ObserveOutcome is called once per request with a nil error on success.
type Recorder interface {
	ObserveStage(stage Stage, duration time.Duration, err error)
	ObserveOutcome(err *AccessError)
}
