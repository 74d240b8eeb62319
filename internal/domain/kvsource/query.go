package kvsource

import (
	"strings"
	"unsafe"
)

// TrimMode controls whitespace handling around query-string segments.
type TrimMode int

const (
	// NoTrim keeps segments as they are (URL query strings).
	NoTrim TrimMode = iota
	// TrimSpace strips spaces and tabs around keys and values (cookies).
	TrimSpace
)

// QueryString splits a delimited list of key=value segments. Empty segments
// are skipped, a segment without '=' yields an empty value. Keys and values
// containing escapes are percent-decoded into the allocator; all others are
// returned without copying. QueryString never reports deletions.
type QueryString struct {
	raw         string
	delim       byte
	trim        TrimMode
	plusIsSpace bool
	alloc       StringAllocator

	pos   int // start of the current segment
	end   int // end of the current segment
	seg   string
	ended bool
}

// NewQueryString creates a splitter over raw.
func NewQueryString(raw string, delim byte, trim TrimMode, alloc StringAllocator) *QueryString {
	q := &QueryString{
		raw:   raw,
		delim: delim,
		trim:  trim,
		alloc: alloc,
	}
	q.Reset()
	return q
}

// NewURLQuery creates a splitter for a raw URL query ("a=1&b=2"), where '+'
// decodes to a space.
func NewURLQuery(raw string, alloc StringAllocator) *QueryString {
	q := NewQueryString(raw, '&', NoTrim, alloc)
	q.plusIsSpace = true
	return q
}

// NewCookieHeader creates a splitter for one Cookie header value
// ("a=1; b=2").
func NewCookieHeader(raw string, alloc StringAllocator) *QueryString {
	return NewQueryString(raw, ';', TrimSpace, alloc)
}

// Reset implements Source.
func (q *QueryString) Reset() {
	q.pos = 0
	q.ended = false
	q.seek()
}

// Next implements Source.
func (q *QueryString) Next() {
	if q.ended {
		return
	}
	q.pos = q.end + 1
	q.seek()
}

// Ended implements Source.
func (q *QueryString) Ended() bool { return q.ended }

// Key implements Source.
func (q *QueryString) Key() string {
	k, _ := q.split()
	return q.decode(k)
}

// Pair implements Source.
func (q *QueryString) Pair() (string, string) {
	k, v := q.split()
	return q.decode(k), q.decode(v)
}

// Deleted implements Source.
func (q *QueryString) Deleted() bool { return false }

func (q *QueryString) seek() {
	for q.pos <= len(q.raw) {
		end := strings.IndexByte(q.raw[q.pos:], q.delim)
		if end < 0 {
			end = len(q.raw)
		} else {
			end += q.pos
		}
		seg := q.raw[q.pos:end]
		if q.trim == TrimSpace {
			seg = trimSpace(seg)
		}
		if seg != "" {
			q.end = end
			q.seg = seg
			return
		}
		q.pos = end + 1
	}
	q.ended = true
	q.seg = ""
}

func (q *QueryString) split() (string, string) {
	key, value, _ := strings.Cut(q.seg, "=")
	if q.trim == TrimSpace {
		key, value = trimSpace(key), trimSpace(value)
	}
	return key, value
}

func (q *QueryString) decode(s string) string {
	if !strings.ContainsRune(s, '%') && !(q.plusIsSpace && strings.ContainsRune(s, '+')) {
		return s
	}
	buf := q.alloc.AllocString(len(s))
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			c = unhex(s[i+1])<<4 | unhex(s[i+2])
			i += 2
		case c == '+' && q.plusIsSpace:
			c = ' '
		}
		buf[n] = c
		n++
	}
	if n == 0 {
		return ""
	}
	return unsafe.String(&buf[0], n)
}

func trimSpace(s string) string {
	return strings.Trim(s, " \t")
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
