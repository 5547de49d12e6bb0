// Package api provides the HTTP surface of the billing portal service.
//
// # Endpoints
//
//	POST /customer-portal
//	POST /functions/v1/customer-portal
//
// Both take the caller's bearer token in the Authorization header and the
// page origin in the Origin header, and answer 200 {"url": "..."} or
// {"error": "..."} with a status chosen by StatusPolicy. Pre-flight OPTIONS
// requests on any path get an empty 200.
//
// # Status Policies
//
//   - legacy: every failure is a 500
//   - typed: the status reflects the failure kind, and dependency (502) or
//     timeout (504) faults override the kind
//
// # Server
//
//	handlers := api.NewPortalHandlers(service, api.StatusLegacy)
//	srv := api.NewServer(api.ServerConfig{Addr: ":8080"}, handlers, logger, metrics, rateLimit)
//	go srv.HTTPServer().ListenAndServe()
//
// The middleware order is CORS, request ID, metrics, logging, recovery, rate
// limiting, then the router, all wrapped in an otelhttp handler.
package api
