package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/billingportal/pkg/httputil"
	"github.com/platinummonkey/billingportal/pkg/middleware"
	"github.com/platinummonkey/billingportal/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes caps request bodies; the portal endpoint reads none
const DefaultMaxBodyBytes = 64 << 10

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	// TrustedProxies may set the client IP through forwarding headers. Nil trusts none.
	TrustedProxies *httputil.TrustedProxies
}

// Server is the public portal API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	http    *http.Server
}

// NewServer assembles the router and middleware chain. metrics and rateLimit may be nil.
func NewServer(cfg ServerConfig, portalHandlers *PortalHandlers, logger *observability.Logger, metrics *observability.Metrics, rateLimit *middleware.RateLimitMiddleware) *Server {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w, httputil.AllowMethods)
	})
	portalHandlers.RegisterRoutes(router)

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	chain := []func(http.Handler) http.Handler{
		httputil.CORSMiddleware,
		httputil.RequestContextMiddleware(cfg.TrustedProxies),
	}
	if metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(metrics))
	}
	chain = append(chain,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		rateLimit.Handler,
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)

	handler := otelhttp.NewHandler(httputil.Chain(chain...)(router), "portal",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	return &Server{
		router:  router,
		handler: handler,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns the underlying http.Server for start and shutdown
func (s *Server) HTTPServer() *http.Server {
	return s.http
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
