package blocking

import (
	"math"
	"strconv"
	"strings"
)

// specificity ranks how precisely a media range names a target type.
type specificity int

const (
	specNone     specificity = iota
	specAsterisk             // */*
	specPartial              // type/*
	specFull                 // type/subtype
)

// candidate tracks the best Accept segment seen so far for one target.
type candidate struct {
	spec specificity
	q    float64
	pos  int
}

// offer updates the candidate only for a strictly more specific match, so
// the earliest segment of a given specificity wins.
func (c *candidate) offer(s specificity, q float64, pos int) {
	if s > c.spec {
		c.spec = s
		c.q = q
		c.pos = pos
	}
}

type acceptEntry struct {
	typ, subtype string
	q            float64
}

// Negotiate picks HTML or JSON for an Accept header. present is false when
// the request carries no Accept header, which yields JSON.
//
// HTML matches */*, text/* and text/html; JSON matches */*, application/*
// and application/json. Each target keeps its most specific segment. The
// target with the greater q-value wins; on equal q-values the target whose
// deciding segment comes first wins, and JSON wins when both were decided by
// the same segment or when neither matched.
func Negotiate(accept string, present bool) ContentType {
	if !present {
		return ContentTypeJSON
	}

	var html, json candidate
	rest := accept
	for pos := 0; ; pos++ {
		seg, tail, more := strings.Cut(rest, ",")
		if e, ok := parseAcceptEntry(seg); ok {
			switch {
			case e.typ == "*" && e.subtype == "*":
				json.offer(specAsterisk, e.q, pos)
				html.offer(specAsterisk, e.q, pos)
			case strings.EqualFold(e.typ, "text") && e.subtype == "*":
				html.offer(specPartial, e.q, pos)
			case strings.EqualFold(e.typ, "text") && strings.EqualFold(e.subtype, "html"):
				html.offer(specFull, e.q, pos)
			case strings.EqualFold(e.typ, "application") && e.subtype == "*":
				json.offer(specPartial, e.q, pos)
			case strings.EqualFold(e.typ, "application") && strings.EqualFold(e.subtype, "json"):
				json.offer(specFull, e.q, pos)
			}
		}
		if !more {
			break
		}
		rest = tail
	}

	if html.q > json.q {
		return ContentTypeHTML
	}
	if json.q > html.q {
		return ContentTypeJSON
	}
	if html.pos < json.pos {
		return ContentTypeHTML
	}
	return ContentTypeJSON
}

// parseAcceptEntry parses "type/subtype[;param=value...]". A segment without
// '/' is not an entry.
func parseAcceptEntry(seg string) (acceptEntry, bool) {
	mediaRange, params, _ := strings.Cut(seg, ";")
	typ, subtype, ok := strings.Cut(mediaRange, "/")
	if !ok {
		return acceptEntry{}, false
	}
	e := acceptEntry{
		typ:     strings.TrimSpace(typ),
		subtype: strings.TrimSpace(subtype),
		q:       1.0,
	}
	for params != "" {
		var p string
		p, params, _ = strings.Cut(params, ";")
		name, value, found := strings.Cut(p, "=")
		if found && strings.EqualFold(strings.TrimSpace(name), "q") {
			e.q = parseQValue(strings.TrimSpace(value))
			break
		}
	}
	return e, true
}

// parseQValue parses the leading number of s. Anything unparsable, infinite
// or outside (0, 1] yields 1.
func parseQValue(s string) float64 {
	end := 0
	for end < len(s) && strings.IndexByte("0123456789.+-eE", s[end]) >= 0 {
		end++
	}
	q, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 || q > 1 {
		return 1.0
	}
	return q
}
