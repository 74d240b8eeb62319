package blocking

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrAlreadyInitialized is returned by Holder.Initialize on a second call.
	ErrAlreadyInitialized = errors.New("blocking service already initialized")
	// ErrInvalidStatus is returned for a block status outside 200-599.
	// Informational codes cannot end an exchange.
	ErrInvalidStatus = errors.New("invalid block status")
)

// Validate checks that the spec can be rendered.
func (s BlockSpec) Validate() error {
	if s.Status < 200 || s.Status > 599 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, s.Status)
	}
	if s.ContentType < PolicyAuto || s.ContentType > PolicyNone {
		return fmt.Errorf("unknown content type policy %d", int(s.ContentType))
	}
	return nil
}

// Options configures a Service. Empty paths select the built-in templates.
type Options struct {
	HTMLTemplatePath string
	JSONTemplatePath string
	Logger           *slog.Logger
}

// Service renders block responses. Its templates are read-only after
// construction and it is safe for concurrent use.
type Service struct {
	html   []byte
	json   []byte
	logger *slog.Logger
}

// NewService loads the configured templates. A template that cannot be read
// is an error.
func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		html:   []byte(DefaultHTMLTemplate),
		json:   []byte(DefaultJSONTemplate),
		logger: logger,
	}
	if opts.HTMLTemplatePath != "" {
		data, err := LoadTemplate(opts.HTMLTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load HTML template %q: %w", opts.HTMLTemplatePath, err)
		}
		s.html = data
		logger.Info("loaded custom block template",
			"format", "html",
			"path", opts.HTMLTemplatePath,
			"bytes", len(data),
			"digest", fmt.Sprintf("%016x", xxhash.Sum64(data)),
		)
	}
	if opts.JSONTemplatePath != "" {
		data, err := LoadTemplate(opts.JSONTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load JSON template %q: %w", opts.JSONTemplatePath, err)
		}
		s.json = data
		logger.Info("loaded custom block template",
			"format", "json",
			"path", opts.JSONTemplatePath,
			"bytes", len(data),
			"digest", fmt.Sprintf("%016x", xxhash.Sum64(data)),
		)
	}
	return s, nil
}

// Template returns the body served for ct, nil for ContentTypeNone. The
// returned slice must not be modified.
func (s *Service) Template(ct ContentType) []byte {
	switch ct {
	case ContentTypeHTML:
		return s.html
	case ContentTypeJSON:
		return s.json
	default:
		return nil
	}
}

// Resolve returns the content type spec selects for ex.
func (s *Service) Resolve(spec BlockSpec, ex Exchange) ContentType {
	switch spec.ContentType {
	case PolicyHTML:
		return ContentTypeHTML
	case PolicyJSON:
		return ContentTypeJSON
	case PolicyNone:
		return ContentTypeNone
	default:
		return Negotiate(ex.AcceptHeader())
	}
}

// Block answers the exchange with the response described by spec. The
// exchange is always finalized; the returned error is the failure of the
// header or body send step.
func (s *Service) Block(spec BlockSpec, ex Exchange) (ContentType, error) {
	ct := s.Resolve(spec, ex)
	body := s.Template(ct)
	if ct == ContentTypeNone {
		ex.SetHeaderOnly()
	}

	ex.DiscardBody()
	ex.SetStatus(spec.Status)
	ex.SetContentType(ct.HeaderValue())
	if spec.Location != "" {
		ex.AddHeader("Location", spec.Location)
	}
	ex.SetContentLength(int64(len(body)))

	if err := ex.SendHeader(); err != nil || ct == ContentTypeNone {
		ex.Finalize(err)
		return ct, err
	}

	err := ex.SendBody(body)
	ex.Finalize(err)
	return ct, err
}

// Holder publishes a Service exactly once.
type Holder struct {
	svc atomic.Pointer[Service]
}

// Initialize builds the Service. Only the first successful call takes
// effect; later calls return ErrAlreadyInitialized.
func (h *Holder) Initialize(opts Options) error {
	if h.svc.Load() != nil {
		return ErrAlreadyInitialized
	}
	svc, err := NewService(opts)
	if err != nil {
		return err
	}
	if !h.svc.CompareAndSwap(nil, svc) {
		return ErrAlreadyInitialized
	}
	return nil
}

// Service returns the published Service, or nil before Initialize.
func (h *Holder) Service() *Service {
	return h.svc.Load()
}
