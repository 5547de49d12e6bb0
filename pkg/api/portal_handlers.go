package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/billingportal/pkg/contextkeys"
	"github.com/platinummonkey/billingportal/pkg/httputil"
	"github.com/platinummonkey/billingportal/pkg/observability"
	"github.com/platinummonkey/billingportal/pkg/portal"
)

// Portal endpoint paths. The second is the path existing browser clients call.
const (
	PortalPath       = "/customer-portal"
	PortalLegacyPath = "/functions/v1/customer-portal"
)

// SessionRequester runs the portal access flow
type SessionRequester interface {
	RequestSession(ctx context.Context, req portal.Request) (*portal.Result, error)
}

// PortalHandlers handles billing portal session requests
type PortalHandlers struct {
	service SessionRequester
	policy  StatusPolicy
}

// NewPortalHandlers creates a new PortalHandlers
func NewPortalHandlers(service SessionRequester, policy StatusPolicy) *PortalHandlers {
	if policy == "" {
		policy = StatusLegacy
	}
	return &PortalHandlers{
		service: service,
		policy:  policy,
	}
}

// RegisterRoutes registers portal routes
func (h *PortalHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(PortalPath, h.CreateSession).Methods(http.MethodPost)
	router.HandleFunc(PortalLegacyPath, h.CreateSession).Methods(http.MethodPost)
}

// CreateSession issues a billing portal session for the authenticated caller.
// The request body is ignored.
func (h *PortalHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RequestSession(r.Context(), portal.Request{
		Authorization: r.Header.Get("Authorization"),
		Origin:        r.Header.Get("Origin"),
	})
	if err != nil {
		aerr := portal.AsAccessError(err)
		h.logFailure(r, aerr)
		httputil.WriteErrorMessage(w, h.policy.Status(aerr), aerr.Message)
		return
	}

	_ = httputil.WriteSuccess(w, result)
}

func (h *PortalHandlers) logFailure(r *http.Request, aerr *portal.AccessError) {
	logger := observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"kind":      string(aerr.Kind),
		"fault":     string(aerr.Fault),
		"stage":     string(aerr.Stage),
		"client_ip": contextkeys.GetClientIP(r.Context()),
	}).WithError(aerr.Err)

	if aerr.CallerFault() {
		logger.Info(aerr.Message)
		return
	}
	logger.Error(aerr.Message)
}
