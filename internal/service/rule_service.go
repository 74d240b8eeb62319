// Package service contains application services.
package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/Sentinel-Gate/appsec-gate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// CompiledRule represents a pre-compiled rule ready for evaluation.
type CompiledRule struct {
	Name    string
	Phase   rules.Phase
	Action  rules.Action
	Block   blocking.BlockSpec
	Program cel.Program // Pre-compiled CEL program
}

// CompiledRulesSnapshot is the immutable snapshot stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Request  []CompiledRule // request phase rules, in configured order
	Response []CompiledRule // response phase rules, in configured order
	// Generation increases with every Reload. It is part of the cache key,
	// so a decision computed against an older snapshot is never served
	// after the swap.
	Generation uint64
}

// forPhase returns the rules of one phase.
func (s *CompiledRulesSnapshot) forPhase(phase rules.Phase) []CompiledRule {
	if phase == rules.PhaseResponse {
		return s.Response
	}
	return s.Request
}

// Rule evaluation outcomes reported to a RuleObserver.
const (
	OutcomeBlock   = "block"
	OutcomeMonitor = "monitor"
	OutcomeError   = "error"
)

// RuleObserver receives per-rule outcomes, typically to count them.
type RuleObserver interface {
	ObserveRule(phase rules.Phase, rule, outcome string)
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision rules.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for rule decisions.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size. A size of
// zero or less disables caching.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize < 0 {
		maxSize = 0
	}
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (rules.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return rules.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision rules.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize == 0 {
		return
	}

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on rule reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the rule set generation and the phase together
// with the content fingerprint of the data tree.
func computeCacheKey(generation uint64, phase rules.Phase, data *valuetree.Value) uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], generation)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(string(phase))
	_, _ = h.Write([]byte{0})

	binary.LittleEndian.PutUint64(buf[:], data.Fingerprint())
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// RuleService implements rules.Engine with CEL-based rule evaluation.
// Rules are compiled at load time and evaluated in configured order: every
// matching monitor rule is recorded and the first matching block rule wins.
// Supports hot-reload via Reload() for runtime rule updates.
// Uses atomic.Value for lock-free reads on the hot path.
type RuleService struct {
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *CompiledRulesSnapshot
	mu        sync.Mutex   // Only for Reload() writes
	cache     *ResultCache
	observer  RuleObserver
	logger    *slog.Logger
}

// RuleServiceOption configures RuleService.
type RuleServiceOption func(*RuleService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) RuleServiceOption {
	return func(s *RuleService) {
		s.cache = NewResultCache(size)
	}
}

// WithRuleObserver reports per-rule outcomes to o.
func WithRuleObserver(o RuleObserver) RuleServiceOption {
	return func(s *RuleService) {
		s.observer = o
	}
}

// NewRuleService creates a RuleService and compiles ruleList.
func NewRuleService(ruleList []rules.Rule, logger *slog.Logger, opts ...RuleServiceOption) (*RuleService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &RuleService{
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	snapshot, err := s.compileRules(ruleList)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snapshot)

	logger.Info("rule service initialized",
		"request_rules", len(snapshot.Request),
		"response_rules", len(snapshot.Response),
		"cache_max_size", s.cache.maxSize,
	)

	return s, nil
}

// ValidateRules checks every rule and its CEL condition without installing
// them. Returns an error describing the first invalid rule.
func (s *RuleService) ValidateRules(ruleList []rules.Rule) error {
	seen := make(map[string]struct{}, len(ruleList))
	for _, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			return err
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if err := s.evaluator.ValidateExpression(rule.Condition); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// compileRules validates and compiles rules into a snapshot split by phase.
func (s *RuleService) compileRules(ruleList []rules.Rule) (*CompiledRulesSnapshot, error) {
	if err := s.ValidateRules(ruleList); err != nil {
		return nil, err
	}

	snapshot := &CompiledRulesSnapshot{}
	for _, rule := range ruleList {
		prg, err := s.evaluator.Compile(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.Name, err)
		}

		phase, _ := rules.ParsePhase(string(rule.Phase))
		action, _ := rules.ParseAction(string(rule.Action))
		cr := CompiledRule{
			Name:    rule.Name,
			Phase:   phase,
			Action:  action,
			Block:   rule.Block,
			Program: prg,
		}
		if phase == rules.PhaseResponse {
			snapshot.Response = append(snapshot.Response, cr)
		} else {
			snapshot.Request = append(snapshot.Request, cr)
		}
	}
	return snapshot, nil
}

// loadSnapshot returns the current rules snapshot atomically (lock-free).
func (s *RuleService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// Evaluate runs the rules of phase against data.
// A rule whose condition fails to evaluate is skipped (fail open); the
// failures are returned joined alongside the decision reached by the other
// rules. Decisions reached without failures are cached by data fingerprint.
func (s *RuleService) Evaluate(ctx context.Context, phase rules.Phase, data *valuetree.Value) (rules.Decision, error) {
	if data == nil {
		return rules.Decision{}, errors.New("no data to evaluate")
	}

	snapshot := s.loadSnapshot()
	candidates := snapshot.forPhase(phase)
	if len(candidates) == 0 {
		return rules.Decision{}, nil
	}

	cacheKey := computeCacheKey(snapshot.Generation, phase, data)
	if decision, ok := s.cache.Get(cacheKey); ok {
		s.observe(phase, decision)
		return decision, nil
	}

	activation := celeval.BuildActivation(phase, data)

	var decision rules.Decision
	var errs []error
	for _, rule := range candidates {
		matched, err := s.evaluator.Evaluate(ctx, rule.Program, activation)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			if s.observer != nil {
				s.observer.ObserveRule(phase, rule.Name, OutcomeError)
			}
			continue
		}
		if !matched {
			continue
		}
		if rule.Action == rules.ActionMonitor {
			decision.Monitored = append(decision.Monitored, rule.Name)
			continue
		}
		decision.Blocked = true
		decision.Rule = rule.Name
		decision.Block = rule.Block
		break
	}

	s.observe(phase, decision)
	if len(errs) > 0 {
		return decision, errors.Join(errs...)
	}
	s.cache.Put(cacheKey, decision)
	return decision, nil
}

// observe reports the matches of a decision.
func (s *RuleService) observe(phase rules.Phase, decision rules.Decision) {
	if s.observer == nil {
		return
	}
	for _, name := range decision.Monitored {
		s.observer.ObserveRule(phase, name, OutcomeMonitor)
	}
	if decision.Blocked {
		s.observer.ObserveRule(phase, decision.Rule, OutcomeBlock)
	}
}

// Reload recompiles ruleList and swaps it in.
// This method is thread-safe and can be called concurrently with Evaluate.
// On error the current rules stay in place.
func (s *RuleService) Reload(ruleList []rules.Rule) error {
	snapshot, err := s.compileRules(ruleList)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	s.mu.Lock()
	snapshot.Generation = s.loadSnapshot().Generation + 1
	s.snapshot.Store(snapshot)
	s.mu.Unlock()

	// Entries of older generations can no longer be hit; drop them.
	s.cache.Clear()

	s.logger.Info("rule service reloaded",
		"request_rules", len(snapshot.Request),
		"response_rules", len(snapshot.Response),
		"generation", snapshot.Generation,
		"cache_cleared", true,
	)
	return nil
}

// RuleCount returns the number of installed rules per phase.
func (s *RuleService) RuleCount() (request, response int) {
	snapshot := s.loadSnapshot()
	return len(snapshot.Request), len(snapshot.Response)
}

// Compile-time interface verification.
var _ rules.Engine = (*RuleService)(nil)
