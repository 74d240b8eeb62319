package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/appsec-gate/internal/ctxkey"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/arena"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/collection"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// Inspection outcomes reported to an InspectionObserver.
const (
	OutcomeAllow = "allow"
)

// loggerFromContext retrieves the enriched logger from context.
// Uses the same key as HTTP middleware for request_id enrichment.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// InspectionObserver receives the outcome and latency of each inspection.
type InspectionObserver interface {
	ObserveInspection(phase rules.Phase, outcome string, elapsed time.Duration)
	ObserveBlock(phase rules.Phase, status int, contentType string)
	// ObserveArena reports how much of the request arena one phase used.
	ObserveArena(phase rules.Phase, stats arena.Stats)
}

// InspectionService serializes exchange data into a per-call arena, runs the
// rule engine over it and renders block responses.
type InspectionService struct {
	engine   rules.Engine
	blocker  *blocking.Service
	clientIP collection.ClientIPResolver
	observer InspectionObserver
	logger   *slog.Logger

	arenaChunk int
	arenas     sync.Pool
}

// InspectionOption configures InspectionService.
type InspectionOption func(*InspectionService)

// WithClientIPResolver sets the resolver used for the client IP address.
func WithClientIPResolver(r collection.ClientIPResolver) InspectionOption {
	return func(s *InspectionService) {
		s.clientIP = r
	}
}

// WithArenaChunkSize sets the number of tree nodes per arena chunk.
func WithArenaChunkSize(n int) InspectionOption {
	return func(s *InspectionService) {
		s.arenaChunk = n
	}
}

// WithInspectionObserver reports inspection outcomes to o.
func WithInspectionObserver(o InspectionObserver) InspectionOption {
	return func(s *InspectionService) {
		s.observer = o
	}
}

// NewInspectionService creates an InspectionService.
func NewInspectionService(engine rules.Engine, blocker *blocking.Service, logger *slog.Logger, opts ...InspectionOption) *InspectionService {
	s := &InspectionService{
		engine:     engine,
		blocker:    blocker,
		logger:     logger,
		arenaChunk: arena.DefaultObjectChunk,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.arenas.New = func() any {
		return valuetree.NewArena(arena.WithObjectChunk(s.arenaChunk))
	}
	return s
}

// InspectRequest evaluates the request phase rules.
func (s *InspectionService) InspectRequest(ctx context.Context, req *collection.Request) rules.Decision {
	return s.inspect(ctx, rules.PhaseRequest, func(ser *collection.Serializer) *valuetree.Value {
		return ser.RequestData(req)
	})
}

// InspectResponse evaluates the response phase rules.
func (s *InspectionService) InspectResponse(ctx context.Context, resp *collection.Response) rules.Decision {
	return s.inspect(ctx, rules.PhaseResponse, func(ser *collection.Serializer) *valuetree.Value {
		return ser.ResponseData(resp)
	})
}

func (s *InspectionService) inspect(ctx context.Context, phase rules.Phase, build func(*collection.Serializer) *valuetree.Value) rules.Decision {
	start := time.Now()
	logger := s.requestLogger(ctx)

	a := s.arenas.Get().(*valuetree.Arena)
	defer func() {
		a.Reset()
		s.arenas.Put(a)
	}()

	data := build(collection.NewSerializer(a, s.clientIP))
	decision, err := s.engine.Evaluate(ctx, phase, data)
	if err != nil {
		logger.Warn("rule evaluation failed", "phase", phase, "error", err)
	}
	if len(decision.Monitored) > 0 || decision.Blocked {
		logger = logger.With("client_ip", clientIPOf(data))
	}
	for _, name := range decision.Monitored {
		logger.Info("rule matched", "rule", name, "phase", phase, "action", rules.ActionMonitor)
	}
	if decision.Blocked {
		logger.Debug("rule matched", "rule", decision.Rule, "phase", phase, "action", rules.ActionBlock)
	}

	if s.observer != nil {
		outcome := OutcomeAllow
		if decision.Blocked {
			outcome = OutcomeBlock
		}
		s.observer.ObserveInspection(phase, outcome, time.Since(start))
		s.observer.ObserveArena(phase, a.Stats())
	}
	return decision
}

// clientIPOf returns a copy of the client address in data, or "" when the
// phase has none. The copy outlives the arena.
func clientIPOf(data *valuetree.Value) string {
	v, ok := data.Lookup(collection.AddrClientIP)
	if !ok || v.Kind() != valuetree.KindString {
		return ""
	}
	return strings.Clone(v.Str())
}

// Block answers ex with the block response of decision. The returned error
// is a failure to send the response.
func (s *InspectionService) Block(ctx context.Context, phase rules.Phase, decision rules.Decision, ex blocking.Exchange) error {
	logger := s.requestLogger(ctx)

	ct, err := s.blocker.Block(decision.Block, ex)
	logger.Info("request blocked",
		"rule", decision.Rule,
		"phase", phase,
		"status", decision.Block.Status,
		"content_type", ct.String(),
	)
	if s.observer != nil {
		s.observer.ObserveBlock(phase, decision.Block.Status, ct.String())
	}
	if err != nil {
		logger.Warn("failed to send block response", "rule", decision.Rule, "error", err)
	}
	return err
}

func (s *InspectionService) requestLogger(ctx context.Context) *slog.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}
