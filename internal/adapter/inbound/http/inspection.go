package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/collection"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
)

// Inspector is the inspection surface the middleware drives.
// *service.InspectionService implements it.
type Inspector interface {
	InspectRequest(ctx context.Context, req *collection.Request) rules.Decision
	InspectResponse(ctx context.Context, resp *collection.Response) rules.Decision
	Block(ctx context.Context, phase rules.Phase, decision rules.Decision, ex blocking.Exchange) error
}

// InspectionMiddleware runs both inspection phases around next.
// A request-phase block answers the client without calling next.
// A response-phase block replaces whatever next was about to send.
// maxDiscardBody bounds how much request body is drained before blocking;
// zero or less means DefaultMaxDiscardBody.
func InspectionMiddleware(insp Inspector, maxDiscardBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			decision := insp.InspectRequest(ctx, ConvertRequest(r))
			if decision.Blocked {
				block(ctx, insp, rules.PhaseRequest, decision, w, r, maxDiscardBody)
				return
			}

			iw := newInterceptWriter(w, func(status int, header http.Header) bool {
				d := insp.InspectResponse(ctx, &collection.Response{
					Status:  status,
					Headers: ConvertResponseHeaders(header),
				})
				if !d.Blocked {
					return false
				}
				block(ctx, insp, rules.PhaseResponse, d, w, r, maxDiscardBody)
				return true
			})
			next.ServeHTTP(iw, r)
			iw.finish()
		})
	}
}

// block sends the block response of decision. A status the exchange refuses
// to send falls back to a plain 403 so the client never sees an implicit 200.
func block(ctx context.Context, insp Inspector, phase rules.Phase, decision rules.Decision, w http.ResponseWriter, r *http.Request, maxDiscardBody int64) {
	err := insp.Block(ctx, phase, decision, newResponseExchange(w, r, maxDiscardBody))
	if errors.Is(err, blocking.ErrInvalidStatus) {
		w.Header().Del("Location")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
}
