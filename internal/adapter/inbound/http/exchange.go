package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
)

// DefaultMaxDiscardBody caps how much of an unread request body is drained
// before a block response.
const DefaultMaxDiscardBody = 1 << 20

// responseExchange drives a block response onto an http.ResponseWriter.
type responseExchange struct {
	w          http.ResponseWriter
	r          *http.Request
	maxDiscard int64

	status     int
	headerOnly bool
	finalErr   error
	finalized  bool
}

func newResponseExchange(w http.ResponseWriter, r *http.Request, maxDiscard int64) *responseExchange {
	if maxDiscard <= 0 {
		maxDiscard = DefaultMaxDiscardBody
	}
	return &responseExchange{w: w, r: r, maxDiscard: maxDiscard, status: http.StatusForbidden}
}

// AcceptHeader joins repeated Accept headers into one list.
func (x *responseExchange) AcceptHeader() (string, bool) {
	values, ok := x.r.Header["Accept"]
	if !ok {
		return "", false
	}
	return strings.Join(values, ","), true
}

func (x *responseExchange) DiscardBody() {
	if x.r.Body == nil || x.r.Body == http.NoBody {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(x.r.Body, x.maxDiscard))
	_ = x.r.Body.Close()
}

func (x *responseExchange) SetStatus(code int) { x.status = code }

func (x *responseExchange) SetContentType(value string) {
	if value == "" {
		x.w.Header().Del("Content-Type")
		return
	}
	x.w.Header().Set("Content-Type", value)
}

func (x *responseExchange) AddHeader(name, value string) { x.w.Header().Add(name, value) }

func (x *responseExchange) SetContentLength(n int64) {
	x.w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
}

func (x *responseExchange) SetHeaderOnly() { x.headerOnly = true }

func (x *responseExchange) SendHeader() error {
	if x.status < 200 || x.status > 999 {
		return fmt.Errorf("%w: %d", blocking.ErrInvalidStatus, x.status)
	}
	x.w.WriteHeader(x.status)
	return nil
}

func (x *responseExchange) SendBody(body []byte) error {
	if x.headerOnly || x.r.Method == http.MethodHead {
		return nil
	}
	_, err := x.w.Write(body)
	return err
}

func (x *responseExchange) Finalize(err error) {
	x.finalized = true
	x.finalErr = err
	if err != nil {
		return
	}
	if f, ok := x.w.(http.Flusher); ok {
		f.Flush()
	}
}

var _ blocking.Exchange = (*responseExchange)(nil)
