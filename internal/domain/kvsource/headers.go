package kvsource

import "unsafe"

// headerWalker walks a header list, skipping one header name and exposing
// lower-cased names. Lower-cased copies are cached per name so that repeated
// headers allocate once.
type headerWalker struct {
	headers []Header
	exclude string
	alloc   StringAllocator
	lower   map[string]string
	i       int
}

func newHeaderWalker(headers []Header, exclude string, alloc StringAllocator) headerWalker {
	return headerWalker{
		headers: headers,
		exclude: asciiLower(exclude),
		alloc:   alloc,
	}
}

func (w *headerWalker) reset() {
	w.i = -1
	w.next()
}

func (w *headerWalker) next() {
	for w.i++; w.i < len(w.headers); w.i++ {
		if w.lowerName(w.headers[w.i].Name) != w.exclude {
			return
		}
	}
}

func (w *headerWalker) ended() bool { return w.i >= len(w.headers) }

func (w *headerWalker) current() *Header { return &w.headers[w.i] }

func (w *headerWalker) lowerName(name string) string {
	if !hasUpper(name) {
		return name
	}
	if lc, ok := w.lower[name]; ok {
		return lc
	}
	buf := w.alloc.AllocString(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf[i] = c
	}
	lc := unsafe.String(&buf[0], len(buf))
	if w.lower == nil {
		w.lower = make(map[string]string)
	}
	w.lower[name] = lc
	return lc
}

// RequestHeaders traverses request headers with lower-cased names, skipping
// the excluded name. It never reports deletions.
type RequestHeaders struct {
	w headerWalker
}

// NewRequestHeaders creates a traversal over headers that skips exclude
// (compared case-insensitively).
func NewRequestHeaders(headers []Header, exclude string, alloc StringAllocator) *RequestHeaders {
	r := &RequestHeaders{w: newHeaderWalker(headers, exclude, alloc)}
	r.Reset()
	return r
}

// Reset implements Source.
func (r *RequestHeaders) Reset() { r.w.reset() }

// Next implements Source.
func (r *RequestHeaders) Next() { r.w.next() }

// Ended implements Source.
func (r *RequestHeaders) Ended() bool { return r.w.ended() }

// Key implements Source.
func (r *RequestHeaders) Key() string { return r.w.lowerName(r.w.current().Name) }

// Pair implements Source.
func (r *RequestHeaders) Pair() (string, string) {
	h := r.w.current()
	return r.w.lowerName(h.Name), h.Value
}

// Deleted implements Source.
func (r *RequestHeaders) Deleted() bool { return false }

// ResponseHeaders traverses response headers like RequestHeaders, but headers
// marked Removed are surfaced as deleted pairs instead of being skipped.
type ResponseHeaders struct {
	w headerWalker
}

// NewResponseHeaders creates a traversal over headers that skips exclude
// (compared case-insensitively).
func NewResponseHeaders(headers []Header, exclude string, alloc StringAllocator) *ResponseHeaders {
	r := &ResponseHeaders{w: newHeaderWalker(headers, exclude, alloc)}
	r.Reset()
	return r
}

// Reset implements Source.
func (r *ResponseHeaders) Reset() { r.w.reset() }

// Next implements Source.
func (r *ResponseHeaders) Next() { r.w.next() }

// Ended implements Source.
func (r *ResponseHeaders) Ended() bool { return r.w.ended() }

// Key implements Source.
func (r *ResponseHeaders) Key() string { return r.w.lowerName(r.w.current().Name) }

// Pair implements Source.
func (r *ResponseHeaders) Pair() (string, string) {
	h := r.w.current()
	return r.w.lowerName(h.Name), h.Value
}

// Deleted implements Source.
func (r *ResponseHeaders) Deleted() bool { return r.w.current().Removed }

func hasUpper(s string) bool {
	for i := 0; i < len(s); i++ {
		if 'A' <= s[i] && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

func asciiLower(s string) string {
	if !hasUpper(s) {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// Compile-time checks.
var (
	_ Source = (*QueryString)(nil)
	_ Source = (*Aggregate)(nil)
	_ Source = (*RequestHeaders)(nil)
	_ Source = (*ResponseHeaders)(nil)
)
