// Package httputil provides HTTP utilities shared by the portal and health servers.
//
// # Response Helpers
//
// Every failure body has the shape {"error": "<message>"}:
//
//	httputil.WriteSuccess(w, map[string]string{"url": session.URL})
//	httputil.WriteErrorMessage(w, http.StatusInternalServerError, aerr.Message)
//	httputil.WriteTooManyRequests(w, "rate limit exceeded", retryAfter)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.CORSMiddleware,
//		httputil.RequestContextMiddleware(proxies),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(64*1024),
//	)(router)
//
// CORSMiddleware must stay outermost so that rate-limited, recovered and
// unrouted responses also carry the CORS headers.
//
// # Client Addresses
//
// X-Forwarded-For and X-Real-IP are ignored unless the connection comes from
// a hop listed in TrustedProxies. Behind trusted proxies the right-most
// untrusted X-Forwarded-For entry is the client:
//
//	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
//
// # Related Packages
//
//   - pkg/middleware: Rate limiting
//   - pkg/api: Portal handlers and server assembly
package httputil
