package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport is the inbound adapter that puts the inspection gateway in
// front of a downstream handler, normally the reverse proxy.
type HTTPTransport struct {
	handler           http.Handler
	server            *http.Server
	addr              string
	certFile          string
	keyFile           string
	readHeaderTimeout time.Duration
	logger            *slog.Logger
	inspector         Inspector
	maxDiscardBody    int64
	registry          *prometheus.Registry
	metrics           *Metrics       // Prometheus metrics
	healthChecker     *HealthChecker // Health check handler
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.readHeaderTimeout = d
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithInspector enables request and response inspection in front of the
// downstream handler.
func WithInspector(insp Inspector, maxDiscardBody int64) Option {
	return func(t *HTTPTransport) {
		t.inspector = insp
		t.maxDiscardBody = maxDiscardBody
	}
}

// WithMetrics serves /metrics from reg and records request metrics into m.
// Without it the transport creates its own registry on Start.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates an HTTP transport that serves handler behind the
// inspection middleware.
func NewHTTPTransport(handler http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		handler:           handler,
		addr:              "127.0.0.1:8080",
		readHeaderTimeout: 10 * time.Second,
		logger:            slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewRegistry returns a registry with the Go runtime and process collectors
// registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildHandler assembles the middleware chain and routes.
func (t *HTTPTransport) buildHandler() http.Handler {
	if t.registry == nil {
		t.registry = NewRegistry()
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(t.registry)
	}

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. Inspection - Request and response phase rules
	// 4. Handler - Downstream (reverse proxy)
	gateway := t.handler
	if t.inspector != nil {
		gateway = InspectionMiddleware(t.inspector, t.maxDiscardBody)(gateway)
	}
	gateway = RequestIDMiddleware(t.logger)(gateway)
	gateway = MetricsMiddleware(t.metrics)(gateway)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	mux.Handle("/", gateway)
	return mux
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.buildHandler(),
		ReadHeaderTimeout: t.readHeaderTimeout,
	}

	// Configure TLS if certificates provided
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
