// Package collection builds the value trees the rule engine inspects at
// request time and at response time.
package collection

import (
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// Addresses of the request and response attributes, in map order.
const (
	AddrQuery                = "server.request.query"
	AddrURIRaw               = "server.request.uri.raw"
	AddrMethod               = "server.request.method"
	AddrHeadersNoCookies     = "server.request.headers.no_cookies"
	AddrCookies              = "server.request.cookies"
	AddrClientIP             = "http.client_ip"
	AddrResponseStatus       = "server.response.status"
	AddrRespHeadersNoCookies = "server.response.headers.no_cookies"
)

const (
	requestEntries  = 6
	responseEntries = 2
)

// Request is the request-time view handed over by the host server.
type Request struct {
	// Query is the raw query string, without the leading '?'.
	Query string
	// URIRaw is the request target exactly as received.
	URIRaw string
	// Method is the HTTP method name.
	Method string
	// Headers lists every request header in wire order.
	Headers []kvsource.Header
	// Cookies lists the raw values of every Cookie header in wire order.
	Cookies []string
	// PeerAddr is the socket address of the client ("ip:port").
	PeerAddr string
}

// Response is the response-time view handed over by the host server.
type Response struct {
	// Status is the numeric response status.
	Status int
	// Headers lists the response headers; removed ones carry Removed.
	Headers []kvsource.Header
}

// ClientIPResolver determines the client address of a request.
type ClientIPResolver interface {
	ResolveClientIP(headers []kvsource.Header, peerAddr string) (string, bool)
}

// Serializer assembles value trees into one request arena.
type Serializer struct {
	arena    *valuetree.Arena
	clientIP ClientIPResolver
}

// NewSerializer creates a Serializer writing into a. clientIP may be nil, in
// which case the client IP entry is always Null.
func NewSerializer(a *valuetree.Arena, clientIP ClientIPResolver) *Serializer {
	return &Serializer{arena: a, clientIP: clientIP}
}

// RequestData builds the 6-entry request map.
func (s *Serializer) RequestData(r *Request) *valuetree.Value {
	root := valuetree.New(s.arena)
	root.MakeMap(requestEntries, s.arena)

	s.setQuery(r, root.Entry(0))
	setString(root.Entry(1), AddrURIRaw, r.URIRaw)
	setString(root.Entry(2), AddrMethod, r.Method)
	s.setRequestHeaders(r, root.Entry(3))
	s.setCookies(r, root.Entry(4))
	s.setClientIP(r, root.Entry(5))
	return root
}

// ResponseData builds the 2-entry response map.
func (s *Serializer) ResponseData(r *Response) *valuetree.Value {
	root := valuetree.New(s.arena)
	root.MakeMap(responseEntries, s.arena)

	status := root.Entry(0)
	status.SetKey(AddrResponseStatus)
	status.MakeString(FormatStatus(r.Status, s.arena))

	headers := root.Entry(1)
	headers.SetKey(AddrRespHeadersNoCookies)
	Collect(kvsource.NewResponseHeaders(r.Headers, "set-cookie", s.arena), headers, s.arena)
	return root
}

func setString(slot *valuetree.Value, key, value string) {
	slot.SetKey(key)
	slot.MakeString(value)
}

func (s *Serializer) setQuery(r *Request, slot *valuetree.Value) {
	slot.SetKey(AddrQuery)
	Collect(kvsource.NewURLQuery(r.Query, s.arena), slot, s.arena)
}

func (s *Serializer) setRequestHeaders(r *Request, slot *valuetree.Value) {
	slot.SetKey(AddrHeadersNoCookies)
	Collect(kvsource.NewRequestHeaders(r.Headers, "cookie", s.arena), slot, s.arena)
}

func (s *Serializer) setCookies(r *Request, slot *valuetree.Value) {
	slot.SetKey(AddrCookies)
	agg := kvsource.NewAggregate()
	for _, c := range r.Cookies {
		agg.Add(kvsource.NewCookieHeader(c, s.arena))
	}
	Collect(agg, slot, s.arena)
}

func (s *Serializer) setClientIP(r *Request, slot *valuetree.Value) {
	slot.SetKey(AddrClientIP)
	if s.clientIP == nil {
		slot.MakeNull()
		return
	}
	ip, ok := s.clientIP.ResolveClientIP(r.Headers, r.PeerAddr)
	if !ok {
		slot.MakeNull()
		return
	}
	slot.MakeStringCopy(ip, s.arena)
}
