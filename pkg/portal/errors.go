package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned by verifiers when a credential maps to no user
	ErrNoIdentity = errors.New("no identity for credential")
	// ErrMissingAuthorization is returned when no bearer credential was supplied
	ErrMissingAuthorization = errors.New("missing authorization header")
	// ErrEmptyCredential is returned when the header carries no usable credential
	ErrEmptyCredential = errors.New("empty bearer credential")
)

// Kind is the stable, machine-readable class of an access failure
type Kind string

const (
	KindUnauthorized          Kind = "Unauthorized"
	KindIdentityIncomplete    Kind = "IdentityIncomplete"
	KindCustomerNotFound      Kind = "CustomerNotFound"
	KindAmbiguousCustomer     Kind = "AmbiguousCustomer"
	KindSessionCreationFailed Kind = "SessionCreationFailed"
	KindConfigurationFault    Kind = "ConfigurationFault"
)

// Fault says which party caused a failure
type Fault string

const (
	// FaultCaller covers bad or missing credentials and unresolvable users
	FaultCaller Fault = "caller"
	// FaultDependency covers errors returned by the identity service or billing provider
	FaultDependency Fault = "dependency"
	// FaultTimeout covers external calls that exceeded their per-step deadline
	FaultTimeout Fault = "timeout"
	// FaultConfiguration covers missing secrets or collaborators
	FaultConfiguration Fault = "configuration"
)

// Messages returned to callers. They mirror the wording clients already match on.
const (
	msgUnauthorized       = "Unauthorized or user not found"
	msgMissingCredential  = "Unauthorized: missing bearer token"
	msgIdentityIncomplete = "Unauthorized: user has no email address"
	msgCustomerNotFound   = "No Stripe customer found for this user"
	msgCustomerLookup     = "Failed to look up Stripe customer"
	msgAmbiguousCustomer  = "Multiple Stripe customers found for this user"
	msgSessionFailed      = "Failed to create billing portal session"
	msgConfiguration      = "Billing portal is not configured"
)

// AccessError is the single error type produced by Service.RequestSession
type AccessError struct {
	Kind    Kind
	Fault   Fault
	Stage   Stage
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	return e.Message
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Is matches another *AccessError by kind, so errors.Is(err, &AccessError{Kind: KindUnauthorized}) works
func (e *AccessError) Is(target error) bool {
	t, ok := target.(*AccessError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Fault == "" || t.Fault == e.Fault)
}

// CallerFault reports whether the caller, not a dependency, caused the failure
func (e *AccessError) CallerFault() bool {
	return e.Fault == FaultCaller
}

func newAccessError(kind Kind, fault Fault, stage Stage, message string, err error) *AccessError {
	return &AccessError{
		Kind:    kind,
		Fault:   fault,
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// withCause appends the underlying error text to a message
func withCause(message string, err error) string {
	if err == nil {
		return message
	}
	return fmt.Sprintf("%s: %v", message, err)
}

// AsAccessError converts any error into an *AccessError.
// Errors that are not already access errors become configuration faults,
// since only misuse of the package can produce them.
func AsAccessError(err error) *AccessError {
	if err == nil {
		return nil
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae
	}
	return newAccessError(KindConfigurationFault, FaultConfiguration, StageFailed, withCause(msgConfiguration, err), err)
}
