package http

import (
	"net/http"
	"sort"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/collection"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
)

// ConvertRequest builds the request view the serializer consumes.
// net/http does not keep the wire order of distinct header names, so headers
// are emitted sorted by name with the values of one name in received order.
// The Host header, which net/http moves to r.Host, is restored.
func ConvertRequest(r *http.Request) *collection.Request {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	return &collection.Request{
		Query:    r.URL.RawQuery,
		URIRaw:   uri,
		Method:   r.Method,
		Headers:  requestHeaders(r),
		Cookies:  r.Header.Values("Cookie"),
		PeerAddr: r.RemoteAddr,
	}
}

func requestHeaders(r *http.Request) []kvsource.Header {
	names := sortedNames(r.Header)
	n := 0
	for _, name := range names {
		n += len(r.Header[name])
	}
	hasHost := r.Host != "" && len(r.Header["Host"]) == 0
	if hasHost {
		n++
	}

	out := make([]kvsource.Header, 0, n)
	if hasHost {
		out = append(out, kvsource.Header{Name: "Host", Value: r.Host})
	}
	for _, name := range names {
		for _, v := range r.Header[name] {
			out = append(out, kvsource.Header{Name: name, Value: v})
		}
	}
	return out
}

// ConvertResponseHeaders builds the response header view. A name mapped to a
// nil or empty value list is reported once as removed; net/http uses the
// same convention to suppress headers it would otherwise add.
func ConvertResponseHeaders(h http.Header) []kvsource.Header {
	names := sortedNames(h)
	out := make([]kvsource.Header, 0, len(names))
	for _, name := range names {
		values := h[name]
		if len(values) == 0 {
			out = append(out, kvsource.Header{Name: name, Removed: true})
			continue
		}
		for _, v := range values {
			out = append(out, kvsource.Header{Name: name, Value: v})
		}
	}
	return out
}

func sortedNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
