package http

import (
	"net/http"
)

// interceptWriter holds the response header back from the client until the
// response phase has been inspected. Handlers write their headers into a
// private map; the first WriteHeader, Write or Flush triggers the decision.
// A blocked response is replaced on the underlying writer and everything the
// handler writes afterwards is dropped.
type interceptWriter struct {
	w      http.ResponseWriter
	header http.Header

	// decide inspects the pending response and reports whether it has
	// already been answered with a block response.
	decide func(status int, header http.Header) bool

	decided bool
	blocked bool
}

func newInterceptWriter(w http.ResponseWriter, decide func(int, http.Header) bool) *interceptWriter {
	return &interceptWriter{w: w, header: make(http.Header), decide: decide}
}

// Header returns the pending header until the response is let through, then
// the underlying header so later changes such as trailers reach the client.
func (iw *interceptWriter) Header() http.Header {
	if iw.decided && !iw.blocked {
		return iw.w.Header()
	}
	return iw.header
}

func (iw *interceptWriter) WriteHeader(code int) {
	if iw.decided {
		if !iw.blocked {
			iw.w.WriteHeader(code)
		}
		return
	}
	if code >= 100 && code < 200 {
		// Informational responses are not inspected.
		copyHeader(iw.w.Header(), iw.header)
		iw.w.WriteHeader(code)
		return
	}
	iw.commit(code)
}

func (iw *interceptWriter) Write(b []byte) (int, error) {
	if !iw.decided {
		iw.commit(http.StatusOK)
	}
	if iw.blocked {
		return len(b), nil
	}
	return iw.w.Write(b)
}

func (iw *interceptWriter) Flush() {
	if !iw.decided {
		iw.commit(http.StatusOK)
	}
	if iw.blocked {
		return
	}
	if f, ok := iw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (iw *interceptWriter) Unwrap() http.ResponseWriter { return iw.w }

// finish inspects a response whose handler returned without writing.
func (iw *interceptWriter) finish() {
	if !iw.decided {
		iw.commit(http.StatusOK)
	}
}

func (iw *interceptWriter) commit(code int) {
	iw.decided = true
	if iw.decide(code, iw.header) {
		iw.blocked = true
		return
	}
	copyHeader(iw.w.Header(), iw.header)
	iw.w.WriteHeader(code)
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if values == nil {
			dst[name] = nil
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}
