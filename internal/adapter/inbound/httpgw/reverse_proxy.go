// Package httpgw provides the reverse proxy that forwards inspected traffic.
// Requests are routed to configured upstream targets by longest path prefix.
package httpgw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// hopByHopHeaders lists headers that must be removed when forwarding requests.
// These headers are meaningful only for a single transport-level connection
// and must not be forwarded by proxies (RFC 2616 Section 13.5.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// DefaultTimeout bounds an upstream exchange when the target sets none.
const DefaultTimeout = 30 * time.Second

// UpstreamTarget represents a configured reverse proxy upstream target.
type UpstreamTarget struct {
	// Name is the human-readable display name.
	Name string
	// PathPrefix is the URL path prefix to match (e.g., "/api/").
	PathPrefix string
	// Upstream is the target URL base (e.g., "http://127.0.0.1:9000").
	Upstream string
	// StripPrefix controls whether PathPrefix is stripped before forwarding.
	StripPrefix bool
	// Headers are additional headers to inject into proxied requests.
	Headers map[string]string
	// Timeout bounds the upstream exchange. Zero means DefaultTimeout.
	Timeout time.Duration
}

// ReverseProxy manages upstream targets and forwards requests to them.
// It uses an atomic pointer for lock-free reads of the target list.
type ReverseProxy struct {
	targets atomic.Pointer[[]UpstreamTarget]
	client  *http.Client
	logger  *slog.Logger
}

// NewReverseProxy creates a new ReverseProxy with sensible HTTP client defaults.
func NewReverseProxy(logger *slog.Logger) *ReverseProxy {
	rp := &ReverseProxy{
		client: &http.Client{
			// Do not follow redirects -- pass them through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	empty := make([]UpstreamTarget, 0)
	rp.targets.Store(&empty)
	return rp
}

// SetTargets stores the upstream targets via atomic pointer for lock-free reads.
func (rp *ReverseProxy) SetTargets(targets []UpstreamTarget) {
	rp.targets.Store(&targets)
}

// Targets returns a copy of the current upstream targets.
func (rp *ReverseProxy) Targets() []UpstreamTarget {
	ptr := rp.targets.Load()
	if ptr == nil {
		return nil
	}
	orig := *ptr
	result := make([]UpstreamTarget, len(orig))
	copy(result, orig)
	return result
}

// Match finds the most specific (longest PathPrefix) matching target
// for the given path. Returns nil if no target matches.
func (rp *ReverseProxy) Match(path string) *UpstreamTarget {
	targetsPtr := rp.targets.Load()
	if targetsPtr == nil {
		return nil
	}
	targets := *targetsPtr

	var best *UpstreamTarget
	bestLen := -1

	for i := range targets {
		t := &targets[i]
		if strings.HasPrefix(path, t.PathPrefix) && len(t.PathPrefix) > bestLen {
			best = t
			bestLen = len(t.PathPrefix)
		}
	}

	return best
}

// ServeHTTP forwards r to the matching target, or answers 404 when no target
// matches.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := rp.Match(r.URL.Path)
	if target == nil {
		writeJSONError(w, http.StatusNotFound, "no_route", "no upstream target for path")
		return
	}
	rp.Forward(w, r, target)
}

// Forward sends the request to the upstream target and copies the response
// back to the client. On error, it returns a 502 Bad Gateway JSON response.
func (rp *ReverseProxy) Forward(w http.ResponseWriter, r *http.Request, target *UpstreamTarget) {
	upstreamURL := buildUpstreamURL(target, r.URL.Path)
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, r.Body)
	if err != nil {
		rp.logger.Error("failed to create reverse proxy request", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "gateway_error", "failed to create upstream request")
		return
	}
	outReq.ContentLength = r.ContentLength

	// Copy headers from original request
	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}

	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	// Inject target-configured headers (overwrite existing)
	for key, value := range target.Headers {
		outReq.Header.Set(key, value)
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := rp.client.Do(outReq)
	if err != nil {
		rp.logger.Error("reverse proxy upstream error", "error", err, "target", target.Name, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "gateway_error", "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		rp.logger.Debug("error copying reverse proxy response body", "error", err)
	}
}

// buildUpstreamURL constructs the full upstream URL for a target and path.
func buildUpstreamURL(target *UpstreamTarget, path string) string {
	forwardPath := path
	if target.StripPrefix {
		forwardPath = strings.TrimPrefix(forwardPath, target.PathPrefix)
		if !strings.HasPrefix(forwardPath, "/") {
			forwardPath = "/" + forwardPath
		}
	}
	return strings.TrimRight(target.Upstream, "/") + forwardPath
}

// writeJSONError writes a structured JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorType,
		"message": message,
	})
}
