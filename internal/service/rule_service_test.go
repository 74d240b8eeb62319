package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/collection"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/kvsource"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ObserveRule(phase rules.Phase, rule, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("%s/%s/%s", phase, rule, outcome))
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func blockRule(name, condition string) rules.Rule {
	return rules.Rule{
		Name:      name,
		Phase:     rules.PhaseRequest,
		Condition: condition,
		Action:    rules.ActionBlock,
		Block:     blocking.DefaultBlockSpec(),
	}
}

func monitorRule(name, condition string) rules.Rule {
	return rules.Rule{
		Name:      name,
		Phase:     rules.PhaseRequest,
		Condition: condition,
		Action:    rules.ActionMonitor,
	}
}

// requestTree serializes a request with the given method and URI into a
// fresh arena released at test cleanup.
func requestTree(t *testing.T, method, uri string) *valuetree.Value {
	t.Helper()
	a := valuetree.NewArena()
	t.Cleanup(a.Release)
	_, query, _ := strings.Cut(uri, "?")
	return collection.NewSerializer(a, nil).RequestData(&collection.Request{
		Query:   query,
		URIRaw:  uri,
		Method:  method,
		Headers: []kvsource.Header{{Name: "Host", Value: "example.com"}},
	})
}

func TestRuleService_FirstBlockWins(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{
		monitorRule("watch-admin", `data["server.request.uri.raw"].startsWith("/admin")`),
		blockRule("block-admin", `data["server.request.uri.raw"].startsWith("/admin")`),
		blockRule("block-all", `true`),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	decision, err := svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", "/admin/users"))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !decision.Blocked || decision.Rule != "block-admin" {
		t.Errorf("decision = %+v, want blocked by block-admin", decision)
	}
	if len(decision.Monitored) != 1 || decision.Monitored[0] != "watch-admin" {
		t.Errorf("Monitored = %v, want [watch-admin]", decision.Monitored)
	}
	if decision.Block.Status != 403 {
		t.Errorf("Block.Status = %d, want 403", decision.Block.Status)
	}
}

func TestRuleService_NoMatchAllows(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{
		blockRule("block-trace", `data["server.request.method"] == "TRACE"`),
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	decision, err := svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", "/"))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if decision.Blocked {
		t.Errorf("decision = %+v, want allow", decision)
	}
}

func TestRuleService_PhaseSeparation(t *testing.T) {
	resp := rules.Rule{
		Name:      "block-errors",
		Phase:     rules.PhaseResponse,
		Condition: `data["server.response.status"] == "500"`,
		Action:    rules.ActionBlock,
		Block:     blocking.BlockSpec{Status: 502, ContentType: blocking.PolicyJSON},
	}
	svc, err := NewRuleService([]rules.Rule{resp}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}
	if req, res := svc.RuleCount(); req != 0 || res != 1 {
		t.Errorf("RuleCount() = %d, %d, want 0, 1", req, res)
	}

	decision, err := svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", "/"))
	if err != nil || decision.Blocked {
		t.Errorf("request phase decision = %+v, %v", decision, err)
	}

	a := valuetree.NewArena()
	defer a.Release()
	data := collection.NewSerializer(a, nil).ResponseData(&collection.Response{Status: 500})
	decision, err = svc.Evaluate(context.Background(), rules.PhaseResponse, data)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !decision.Blocked || decision.Block.Status != 502 {
		t.Errorf("response phase decision = %+v", decision)
	}
}

func TestRuleService_EvaluationErrorFailsOpen(t *testing.T) {
	obs := &recordingObserver{}
	svc, err := NewRuleService([]rules.Rule{
		blockRule("broken", `data["no.such.address"] == "x"`),
		monitorRule("watch", `true`),
	}, discardLogger(), WithRuleObserver(obs))
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	decision, err := svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", "/"))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("Evaluate() error = %v, want error naming the rule", err)
	}
	if decision.Blocked {
		t.Error("failing rule must not block")
	}
	if len(decision.Monitored) != 1 {
		t.Errorf("Monitored = %v, want [watch]", decision.Monitored)
	}
	if svc.cache.Size() != 0 {
		t.Error("decisions with evaluation errors must not be cached")
	}

	want := []string{"request/broken/error", "request/watch/monitor"}
	if got := obs.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("observed = %v, want %v", got, want)
	}
}

func TestRuleService_InvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []rules.Rule
		want  string
	}{
		{"bad CEL", []rules.Rule{blockRule("r", `data[`)}, "invalid CEL"},
		{"duplicate", []rules.Rule{blockRule("r", `true`), blockRule("r", `false`)}, "duplicate"},
		{"missing condition", []rules.Rule{blockRule("r", "")}, "condition is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleService(tt.rules, discardLogger())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewRuleService() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRuleService_CacheHit(t *testing.T) {
	obs := &recordingObserver{}
	svc, err := NewRuleService([]rules.Rule{
		blockRule("block-post", `data["server.request.method"] == "POST"`),
	}, discardLogger(), WithRuleObserver(obs))
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	ctx := context.Background()
	d1, err := svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "POST", "/a"))
	if err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}
	d2, err := svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "POST", "/a"))
	if err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}
	if d1.Blocked != d2.Blocked || d1.Rule != d2.Rule {
		t.Errorf("cached decision differs: %+v vs %+v", d1, d2)
	}
	if svc.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1", svc.cache.Size())
	}
	// Cache hits are still observed.
	if got := len(obs.snapshot()); got != 2 {
		t.Errorf("observed %d events, want 2", got)
	}

	_, _ = svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "POST", "/b"))
	if svc.cache.Size() != 2 {
		t.Errorf("cache size = %d, want 2", svc.cache.Size())
	}
}

func TestRuleService_CacheBounded(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{
		blockRule("never", `false`),
	}, discardLogger(), WithCacheSize(10))
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	for i := 0; i < 20; i++ {
		_, _ = svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", fmt.Sprintf("/p/%d", i)))
	}
	if svc.cache.Size() > 10 {
		t.Errorf("cache exceeded max size: got %d, want <= 10", svc.cache.Size())
	}
}

func TestRuleService_CacheDisabled(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{blockRule("never", `false`)}, discardLogger(), WithCacheSize(0))
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}
	_, _ = svc.Evaluate(context.Background(), rules.PhaseRequest, requestTree(t, "GET", "/"))
	if svc.cache.Size() != 0 {
		t.Errorf("cache size = %d, want 0", svc.cache.Size())
	}
}

func TestRuleService_ReloadSwapsRulesAndClearsCache(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{blockRule("never", `false`)}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}
	ctx := context.Background()

	d, _ := svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "GET", "/"))
	if d.Blocked {
		t.Fatal("unexpected block before reload")
	}
	if svc.cache.Size() == 0 {
		t.Fatal("cache should have entries after evaluate")
	}

	if err := svc.Reload([]rules.Rule{blockRule("always", `true`)}); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if svc.cache.Size() != 0 {
		t.Errorf("cache should be empty after reload, got size=%d", svc.cache.Size())
	}
	d, _ = svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "GET", "/"))
	if !d.Blocked || d.Rule != "always" {
		t.Errorf("decision after reload = %+v", d)
	}

	if err := svc.Reload([]rules.Rule{blockRule("bad", `data[`)}); err == nil {
		t.Fatal("Reload() with invalid rule should fail")
	}
	d, _ = svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "GET", "/"))
	if d.Rule != "always" {
		t.Errorf("failed reload replaced rules: %+v", d)
	}
}

func TestRuleService_ConcurrentEvaluation(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{
		blockRule("block-post", `data["server.request.method"] == "POST"`),
	}, discardLogger(), WithCacheSize(4))
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := valuetree.NewArena()
			defer a.Release()
			method := "GET"
			if i%2 == 0 {
				method = "POST"
			}
			data := collection.NewSerializer(a, nil).RequestData(&collection.Request{
				Method: method,
				URIRaw: fmt.Sprintf("/c/%d", i%5),
			})
			d, err := svc.Evaluate(context.Background(), rules.PhaseRequest, data)
			if err != nil {
				t.Errorf("Evaluate() error: %v", err)
				return
			}
			if d.Blocked != (method == "POST") {
				t.Errorf("method %s: Blocked = %v", method, d.Blocked)
			}
		}(i)
	}
	wg.Wait()
}

func TestComputeCacheKey(t *testing.T) {
	a := requestTree(t, "GET", "/x?a=1")
	b := requestTree(t, "GET", "/x?a=1")
	c := requestTree(t, "GET", "/x?a=2")

	if computeCacheKey(0, rules.PhaseRequest, a) != computeCacheKey(0, rules.PhaseRequest, b) {
		t.Error("equal trees must share a cache key")
	}
	if computeCacheKey(0, rules.PhaseRequest, a) == computeCacheKey(0, rules.PhaseRequest, c) {
		t.Error("different trees must not share a cache key")
	}
	if computeCacheKey(0, rules.PhaseRequest, a) == computeCacheKey(0, rules.PhaseResponse, a) {
		t.Error("phase must be part of the cache key")
	}
	if computeCacheKey(0, rules.PhaseRequest, a) == computeCacheKey(1, rules.PhaseRequest, a) {
		t.Error("rule generation must be part of the cache key")
	}
}

func TestRuleService_LateCachePutAfterReloadIsIgnored(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{blockRule("old", `true`)}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}
	ctx := context.Background()
	data := requestTree(t, "GET", "/late")
	oldGen := svc.loadSnapshot().Generation

	if err := svc.Reload([]rules.Rule{blockRule("new", `false`)}); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	// An evaluation that started on the old rules finishes after the swap.
	svc.cache.Put(computeCacheKey(oldGen, rules.PhaseRequest, data), rules.Decision{Blocked: true, Rule: "old"})

	d, err := svc.Evaluate(ctx, rules.PhaseRequest, data)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Blocked {
		t.Errorf("decision from removed rule served after reload: %+v", d)
	}
	if got := svc.loadSnapshot().Generation; got != oldGen+1 {
		t.Errorf("Generation = %d, want %d", got, oldGen+1)
	}
}

func TestRuleService_EvaluateConcurrentWithReload(t *testing.T) {
	svc, err := NewRuleService([]rules.Rule{blockRule("old", `size(data["server.request.query"]) > 0`)}, discardLogger())
	if err != nil {
		t.Fatalf("NewRuleService() error: %v", err)
	}
	ctx := context.Background()

	var query strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&query, "p%d=%d&", i, i)
	}
	uri := "/search?" + query.String()

	for iter := 0; iter < 10; iter++ {
		if err := svc.Reload([]rules.Rule{blockRule("old", `size(data["server.request.query"]) > 0`)}); err != nil {
			t.Fatalf("Reload() error: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "GET", uri))
		}()
		if err := svc.Reload([]rules.Rule{blockRule("never", `false`)}); err != nil {
			t.Fatalf("Reload() error: %v", err)
		}
		wg.Wait()

		d, err := svc.Evaluate(ctx, rules.PhaseRequest, requestTree(t, "GET", uri))
		if err != nil {
			t.Fatalf("Evaluate() error: %v", err)
		}
		if d.Blocked {
			t.Fatalf("iteration %d: decision still blocked by removed rule %q", iter, d.Rule)
		}
	}
}

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewResultCache(2)
	c.Put(1, rules.Decision{Rule: "one"})
	c.Put(2, rules.Decision{Rule: "two"})
	if _, ok := c.Get(1); !ok {
		t.Fatal("entry 1 missing")
	}
	c.Put(3, rules.Decision{Rule: "three"})

	if _, ok := c.Get(2); ok {
		t.Error("entry 2 should have been evicted")
	}
	if d, ok := c.Get(1); !ok || d.Rule != "one" {
		t.Errorf("Get(1) = %+v, %v", d, ok)
	}
	if d, ok := c.Get(3); !ok || d.Rule != "three" {
		t.Errorf("Get(3) = %+v, %v", d, ok)
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}
