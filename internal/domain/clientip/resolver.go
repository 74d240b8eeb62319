// Package clientip resolves the address of the client behind proxies.
package clientip

import (
	"net/netip"
	"strings"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
)

// DefaultHeaders are the forwarding headers consulted, in order, when no
// custom header is configured.
var DefaultHeaders = []string{
	"x-forwarded-for",
	"x-real-ip",
	"true-client-ip",
	"x-client-ip",
	"x-forwarded",
	"forwarded-for",
	"x-cluster-client-ip",
	"fastly-client-ip",
	"cf-connecting-ip",
	"cf-connecting-ipv6",
	"forwarded",
}

// Resolver picks the client address from forwarding headers, falling back to
// the socket peer address. Public addresses are preferred over private ones.
type Resolver struct {
	headers []string
}

// NewResolver creates a Resolver. When customHeader is not empty it is the
// only forwarding header consulted.
func NewResolver(customHeader string) *Resolver {
	if customHeader != "" {
		return &Resolver{headers: []string{strings.ToLower(customHeader)}}
	}
	return &Resolver{headers: DefaultHeaders}
}

// ResolveClientIP implements collection.ClientIPResolver.
func (r *Resolver) ResolveClientIP(headers []kvsource.Header, peerAddr string) (string, bool) {
	var private netip.Addr
	for _, name := range r.headers {
		for i := range headers {
			if !strings.EqualFold(headers[i].Name, name) {
				continue
			}
			for _, candidate := range candidates(name, headers[i].Value) {
				addr, ok := parseAddr(candidate)
				if !ok {
					continue
				}
				if isPublic(addr) {
					return addr.String(), true
				}
				if !private.IsValid() {
					private = addr
				}
			}
		}
	}
	if private.IsValid() {
		return private.String(), true
	}
	if addr, ok := parseAddr(peerAddr); ok {
		return addr.String(), true
	}
	return "", false
}

// candidates splits a header value into address candidates.
func candidates(name, value string) []string {
	parts := strings.Split(value, ",")
	if name != "forwarded" {
		return parts
	}
	// Forwarded: for=192.0.2.60;proto=http, for="[2001:db8::1]:80"
	out := parts[:0]
	for _, p := range parts {
		for _, kv := range strings.Split(p, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
			if ok && strings.EqualFold(k, "for") {
				out = append(out, strings.Trim(v, `"`))
			}
		}
	}
	return out
}

// parseAddr parses an address with an optional port or IPv6 brackets.
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func isPublic(a netip.Addr) bool {
	return !(a.IsPrivate() || a.IsLoopback() || a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() || a.IsUnspecified() || a.IsMulticast() ||
		sharedAddressSpace.Contains(a))
}
