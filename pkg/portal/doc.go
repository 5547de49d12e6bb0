// Package portal implements authenticated access to the billing provider's
// hosted customer portal.
//
// # Overview
//
// A single operation, Service.RequestSession, runs a strictly linear flow:
//
//	verify identity -> resolve customer -> create session -> respond
//
// Each step depends on the previous step's output, so the three external calls
// are made one after another, each bounded by its own timeout. Nothing is
// retried; the first failure ends the request.
//
// # Collaborators
//
// The service consumes three interfaces:
//
//   - IdentityVerifier: bearer credential to Identity (see pkg/identity)
//   - CustomerDirectory: email to billing customers (see pkg/billing)
//   - SessionIssuer: customer to portal session URL (see pkg/billing)
//
// # Errors
//
// Every failure is an *AccessError with a stable Kind:
//
//	Unauthorized           missing/invalid credential, verifier rejection
//	IdentityIncomplete     identity has no email, so no lookup is attempted
//	CustomerNotFound       no billing customer for the identity's email
//	AmbiguousCustomer      several customers matched under MatchStrict
//	SessionCreationFailed  provider error or no session URL
//	ConfigurationFault     secrets or collaborators missing at start-up
//
// Fault separates caller mistakes from dependency outages and timeouts so the
// HTTP layer can choose status codes (see pkg/api).
//
// # Usage Example
//
//	svc := portal.NewService(portal.Options{
//		Verifier:    verifier,
//		Directory:   stripeClient,
//		Issuer:      stripeClient,
//		MatchPolicy: portal.MatchFirst,
//	})
//
//	result, err := svc.RequestSession(ctx, portal.Request{
//		Authorization: r.Header.Get("Authorization"),
//		Origin:        r.Header.Get("Origin"),
//	})
//
// # Related Packages
//
//   - pkg/api: HTTP surface and status mapping
//   - pkg/observability: Recorder implementation backed by Prometheus
package portal
