// Package blocking renders the HTTP response sent when a security rule
// decides to block a request.
//
// A BlockSpec produced by the rule engine names the status, the content
// type policy and an optional redirect. The Service resolves the content
// type (negotiating it from the Accept header when the policy is AUTO),
// selects the HTML or JSON template and drives the host Exchange through the
// header and body emission steps.
package blocking

import (
	"fmt"
	"strings"
)

// ContentTypePolicy selects how the block response body is typed.
type ContentTypePolicy int

const (
	// PolicyAuto negotiates HTML or JSON from the Accept header.
	PolicyAuto ContentTypePolicy = iota
	// PolicyHTML always answers with the HTML template.
	PolicyHTML
	// PolicyJSON always answers with the JSON template.
	PolicyJSON
	// PolicyNone answers without a body.
	PolicyNone
)

// String returns the configuration name of the policy.
func (p ContentTypePolicy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyHTML:
		return "html"
	case PolicyJSON:
		return "json"
	case PolicyNone:
		return "none"
	default:
		return fmt.Sprintf("ContentTypePolicy(%d)", int(p))
	}
}

// ParseContentTypePolicy parses "auto", "html", "json" or "none"
// (case-insensitive). An empty string means auto.
func ParseContentTypePolicy(s string) (ContentTypePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PolicyAuto, nil
	case "html":
		return PolicyHTML, nil
	case "json":
		return PolicyJSON, nil
	case "none":
		return PolicyNone, nil
	default:
		return PolicyAuto, fmt.Errorf("unknown content type policy %q", s)
	}
}

// BlockSpec describes how to answer a blocked request. It is read-only once
// built.
type BlockSpec struct {
	// Status is the HTTP status code of the block response.
	Status int
	// ContentType selects the body format.
	ContentType ContentTypePolicy
	// Location, when not empty, is sent as a Location header.
	Location string
}

// DefaultBlockSpec is the spec used when a rule does not configure one.
func DefaultBlockSpec() BlockSpec {
	return BlockSpec{Status: 403, ContentType: PolicyAuto}
}

// ContentType is the resolved body format of a block response.
type ContentType int

const (
	// ContentTypeNone means the response has no body.
	ContentTypeNone ContentType = iota
	// ContentTypeHTML means the HTML template is served.
	ContentTypeHTML
	// ContentTypeJSON means the JSON template is served.
	ContentTypeJSON
)

// String returns a short name for logs and metric labels.
func (c ContentType) String() string {
	switch c {
	case ContentTypeHTML:
		return "html"
	case ContentTypeJSON:
		return "json"
	default:
		return "none"
	}
}

// HeaderValue returns the Content-Type header value, empty for none.
func (c ContentType) HeaderValue() string {
	switch c {
	case ContentTypeHTML:
		return "text/html;charset=utf-8"
	case ContentTypeJSON:
		return "application/json"
	default:
		return ""
	}
}
