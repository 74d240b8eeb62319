package blocking

// Exchange is the host side of one HTTP request/response exchange as seen by
// the block renderer. Implementations live in the inbound adapters.
type Exchange interface {
	// AcceptHeader returns the request Accept header and whether it was sent.
	AcceptHeader() (string, bool)
	// DiscardBody drops any unread request body.
	DiscardBody()
	// SetStatus sets the response status code.
	SetStatus(code int)
	// SetContentType sets the Content-Type header. Empty means no header.
	SetContentType(value string)
	// AddHeader appends a response header.
	AddHeader(name, value string)
	// SetContentLength sets the Content-Length of the response.
	SetContentLength(n int64)
	// SetHeaderOnly marks the response as having no body.
	SetHeaderOnly()
	// SendHeader emits the response header.
	SendHeader() error
	// SendBody emits the final body buffer.
	SendBody(body []byte) error
	// Finalize completes the exchange. err is the failure of the last send
	// step, if any.
	Finalize(err error)
}
