// Package http is the inbound HTTP adapter of the gateway.
//
// It converts net/http requests and responses into the views the
// inspection service serializes, drives block responses onto a
// ResponseWriter, and serves the gateway with its operational endpoints.
//
// # Usage
//
//	transport := http.NewHTTPTransport(proxy,
//	    http.WithAddr(":8080"),
//	    http.WithInspector(inspectionService, http.DefaultMaxDiscardBody),
//	    http.WithMetrics(reg, metrics),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	GET /health  - Component health as JSON, 503 when unhealthy
//	GET /metrics - Prometheus metrics
//	/            - Inspected traffic, forwarded to the downstream handler
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Request count and duration
//  2. RequestIDMiddleware - X-Request-ID and a request-scoped logger
//  3. InspectionMiddleware - Request phase, then response phase
//  4. Downstream handler
//
// # Response Inspection
//
// The downstream handler writes into a buffered header map. The response
// phase runs when the handler first sends its status line, so a blocking
// rule can still replace the response. Body bytes are never inspected.
package http
