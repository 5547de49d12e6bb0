package portal

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultStepTimeout bounds each external call when no timeout is configured
	DefaultStepTimeout = 10 * time.Second

	tracerName = "github.com/platinummonkey/billingportal/pkg/portal"
)

var errNoSessionURL = errors.New("provider returned no session URL")

// Options configures a Service. It is built once at start-up and not read again.
type Options struct {
	Verifier  IdentityVerifier
	Directory CustomerDirectory
	Issuer    SessionIssuer

	// MatchPolicy defaults to MatchFirst
	MatchPolicy MatchPolicy
	// ReturnPath defaults to DefaultReturnPath
	ReturnPath string
	// FallbackOrigin is used when the request carries no Origin
	FallbackOrigin string

	VerifyTimeout  time.Duration
	LookupTimeout  time.Duration
	SessionTimeout time.Duration

	// ConfigError marks the service as misconfigured (e.g. secrets missing at start-up).
	// Every request then fails with KindConfigurationFault.
	ConfigError error

	Recorder Recorder
	Logger   logrus.FieldLogger

	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// Service implements the authenticated billing-portal access flow:
// verify identity, resolve customer, create session, respond.
//
// A Service holds no per-request state and is safe for concurrent use.
type Service struct {
	verifier  IdentityVerifier
	directory CustomerDirectory
	issuer    SessionIssuer

	matchPolicy    MatchPolicy
	returnPath     string
	fallbackOrigin string

	verifyTimeout  time.Duration
	lookupTimeout  time.Duration
	sessionTimeout time.Duration

	configErr error
	recorder  Recorder
	logger    logrus.FieldLogger
	tracer    trace.Tracer
}

// NewService creates a Service from opts. Missing collaborators do not cause an
// error here; they are reported per request as a configuration fault.
func NewService(opts Options) *Service {
	s := &Service{
		verifier:       opts.Verifier,
		directory:      opts.Directory,
		issuer:         opts.Issuer,
		matchPolicy:    opts.MatchPolicy,
		returnPath:     opts.ReturnPath,
		fallbackOrigin: opts.FallbackOrigin,
		verifyTimeout:  orDefault(opts.VerifyTimeout),
		lookupTimeout:  orDefault(opts.LookupTimeout),
		sessionTimeout: orDefault(opts.SessionTimeout),
		recorder:       opts.Recorder,
		logger:         opts.Logger,
		tracer:         otel.Tracer(tracerName),
	}

	if opts.TracerProvider != nil {
		s.tracer = opts.TracerProvider.Tracer(tracerName)
	}
	if !s.matchPolicy.Valid() {
		s.matchPolicy = MatchFirst
	}
	if s.returnPath == "" {
		s.returnPath = DefaultReturnPath
	}
	if s.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		s.logger = discard
	}

	var missing []error
	if opts.ConfigError != nil {
		missing = append(missing, opts.ConfigError)
	}
	if s.verifier == nil {
		missing = append(missing, errors.New("identity verifier is not configured"))
	}
	if s.directory == nil {
		missing = append(missing, errors.New("customer directory is not configured"))
	}
	if s.issuer == nil {
		missing = append(missing, errors.New("session issuer is not configured"))
	}
	s.configErr = errors.Join(missing...)

	return s
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultStepTimeout
	}
	return d
}

// ConfigError returns the reason the service cannot serve requests, or nil
func (s *Service) ConfigError() error {
	return s.configErr
}

// MatchPolicy returns the effective customer match policy
func (s *Service) MatchPolicy() MatchPolicy {
	return s.matchPolicy
}

// RequestSession runs the portal access flow for one request.
//
// On success it returns the session URL. On failure the error is always an
// *AccessError. No step is retried and steps never overlap; the only external
// write is the final session creation, which is not idempotent.
func (s *Service) RequestSession(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "portal.RequestSession")
	defer span.End()

	result, aerr := s.run(ctx, req)
	if s.recorder != nil {
		s.recorder.ObserveOutcome(aerr)
	}
	if aerr != nil {
		failSpan(span, aerr)
		span.SetAttributes(
			attribute.String("portal.error_kind", string(aerr.Kind)),
			attribute.String("portal.fault", string(aerr.Fault)),
			attribute.String("portal.stage", string(aerr.Stage)),
		)
		return nil, aerr
	}

	span.SetAttributes(attribute.String("portal.stage", string(StageSucceeded)))
	return result, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, *AccessError) {
	if s.configErr != nil {
		return nil, newAccessError(KindConfigurationFault, FaultConfiguration, StageStart, msgConfiguration, s.configErr)
	}

	token, err := ExtractBearerToken(req.Authorization)
	if err != nil {
		return nil, newAccessError(KindUnauthorized, FaultCaller, StageVerifying, msgMissingCredential, err)
	}

	identity, aerr := s.verify(ctx, token)
	if aerr != nil {
		return nil, aerr
	}

	customer, aerr := s.resolve(ctx, identity)
	if aerr != nil {
		return nil, aerr
	}

	returnURL := ReturnURL(req.Origin, s.returnPath, s.fallbackOrigin)
	session, aerr := s.issue(ctx, customer, returnURL)
	if aerr != nil {
		return nil, aerr
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":     identity.ID,
		"customer_id": customer.ID,
		"session_id":  session.ID,
	}).Info("billing portal session issued")

	return &Result{URL: session.URL}, nil
}

func (s *Service) verify(ctx context.Context, token string) (*Identity, *AccessError) {
	stepCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	stepCtx, span := s.tracer.Start(stepCtx, "portal.verify")
	defer span.End()

	start := time.Now()
	identity, err := s.verifier.Verify(stepCtx, token)
	s.observeStage(StageVerifying, time.Since(start), err)

	switch {
	case errors.Is(err, ErrNoIdentity):
		return nil, failSpan(span, newAccessError(KindUnauthorized, FaultCaller, StageVerifying, msgUnauthorized, err))
	case err != nil:
		return nil, failSpan(span, newAccessError(KindUnauthorized, faultFor(stepCtx, err), StageVerifying, msgUnauthorized, err))
	case identity == nil:
		return nil, failSpan(span, newAccessError(KindUnauthorized, FaultCaller, StageVerifying, msgUnauthorized, ErrNoIdentity))
	}

	// An identity without email would degrade into a provider search for "".
	if strings.TrimSpace(identity.Email) == "" {
		return nil, failSpan(span, newAccessError(KindIdentityIncomplete, FaultCaller, StageVerifying, msgIdentityIncomplete, nil))
	}

	span.SetAttributes(attribute.String("enduser.id", identity.ID))
	return identity, nil
}

func (s *Service) resolve(ctx context.Context, identity *Identity) (*Customer, *AccessError) {
	stepCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	stepCtx, span := s.tracer.Start(stepCtx, "portal.resolve")
	defer span.End()

	limit := s.matchPolicy.lookupLimit()
	span.SetAttributes(
		attribute.String("portal.match_policy", string(s.matchPolicy)),
		attribute.Int("portal.lookup_limit", limit),
	)

	start := time.Now()
	customers, err := s.directory.FindCustomers(stepCtx, identity.Email, limit)
	s.observeStage(StageResolving, time.Since(start), err)

	if err != nil {
		return nil, failSpan(span, newAccessError(KindCustomerNotFound, faultFor(stepCtx, err), StageResolving, withCause(msgCustomerLookup, err), err))
	}
	if len(customers) == 0 {
		return nil, failSpan(span, newAccessError(KindCustomerNotFound, FaultCaller, StageResolving, msgCustomerNotFound, nil))
	}
	if s.matchPolicy == MatchStrict && len(customers) > 1 {
		return nil, failSpan(span, newAccessError(KindAmbiguousCustomer, FaultCaller, StageResolving, msgAmbiguousCustomer, nil))
	}

	customer := customers[0]
	if customer.ID == "" {
		err := errors.New("customer record has no id")
		return nil, failSpan(span, newAccessError(KindCustomerNotFound, FaultDependency, StageResolving, withCause(msgCustomerLookup, err), err))
	}

	span.SetAttributes(attribute.String("billing.customer_id", customer.ID))
	return &customer, nil
}

func (s *Service) issue(ctx context.Context, customer *Customer, returnURL string) (*Session, *AccessError) {
	stepCtx, cancel := context.WithTimeout(ctx, s.sessionTimeout)
	defer cancel()
	stepCtx, span := s.tracer.Start(stepCtx, "portal.issue")
	defer span.End()

	start := time.Now()
	session, err := s.issuer.CreatePortalSession(stepCtx, customer.ID, returnURL)
	s.observeStage(StageIssuing, time.Since(start), err)

	if err != nil {
		return nil, failSpan(span, newAccessError(KindSessionCreationFailed, faultFor(stepCtx, err), StageIssuing, withCause(msgSessionFailed, err), err))
	}
	if session == nil || session.URL == "" {
		return nil, failSpan(span, newAccessError(KindSessionCreationFailed, FaultDependency, StageIssuing, withCause(msgSessionFailed, errNoSessionURL), errNoSessionURL))
	}

	return session, nil
}

// failSpan marks span failed with the error kind as its status
func failSpan(span trace.Span, aerr *AccessError) *AccessError {
	span.RecordError(aerr)
	span.SetStatus(codes.Error, string(aerr.Kind))
	return aerr
}

func (s *Service) observeStage(stage Stage, d time.Duration, err error) {
	if s.recorder != nil {
		s.recorder.ObserveStage(stage, d, err)
	}
}

// faultFor classifies an error returned from an external call made with stepCtx
func faultFor(stepCtx context.Context, err error) Fault {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return FaultTimeout
	}
	return FaultDependency
}
