package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/entity"
	"github.com/privacyshield-ai/privacyshield/internal/finding"
	"github.com/privacyshield-ai/privacyshield/internal/pattern"
	"github.com/privacyshield-ai/privacyshield/internal/policy"
	"github.com/privacyshield-ai/privacyshield/internal/reachability"
)

type stubClassifier struct {
	tokens []entity.Token
	err    error
}

func (s *stubClassifier) Classify(context.Context, string) ([]entity.Token, error) {
	return s.tokens, s.err
}

func (s *stubClassifier) Healthy(context.Context) (bool, error) {
	return s.err == nil, s.err
}

func testRules() policy.Table {
	return policy.Table{
		"email": {
			ID:            "email",
			DetectEnabled: true,
			BlockOnMatch:  true,
			Severity:      policy.SeverityHigh,
		},
		"person": {
			ID:            "person",
			DetectEnabled: true,
			BlockOnMatch:  false,
			Severity:      policy.SeverityMedium,
		},
	}
}

func readyMonitor() *reachability.Monitor {
	m := reachability.NewMonitor(nil)
	m.SetReady()
	return m
}

func awaitRevised(t *testing.T, ch <-chan policy.Decision) (policy.Decision, bool) {
	t.Helper()
	select {
	case d, ok := <-ch:
		return d, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("revised decision not delivered in time")
		return policy.Decision{}, false
	}
}

func TestEvaluateInitialFromPatternsOnly(t *testing.T) {
	o := NewOrchestrator(Config{
		Matcher: pattern.NewMatcher(pattern.DefaultConfig()),
		Rules:   testRules(),
	})

	res := o.Evaluate(context.Background(), "contact me at alice@example.com please")
	if res.ScanID == "" {
		t.Fatalf("expected a scan id")
	}
	if res.Initial.Outcome != policy.OutcomeBlock {
		t.Fatalf("expected block, got %s", res.Initial.Outcome)
	}
	if len(res.Initial.Blocking) != 1 || res.Initial.Blocking[0].RuleID != "email" {
		t.Fatalf("unexpected blocking set %+v", res.Initial.Blocking)
	}

	// No classifier configured: the channel closes without a send.
	if _, ok := awaitRevised(t, res.Revised); ok {
		t.Fatalf("expected closed revised channel")
	}
}

func TestEvaluateSkipsClassifierWhenNotReady(t *testing.T) {
	m := reachability.NewMonitor(nil)
	m.BeginLoading()

	o := NewOrchestrator(Config{
		Matcher:    pattern.NewMatcher(pattern.DefaultConfig()),
		Classifier: &stubClassifier{tokens: personTokens()},
		Monitor:    m,
		Rules:      testRules(),
	})

	res := o.Evaluate(context.Background(), "John Johnson wrote this")
	if res.Initial.Outcome != policy.OutcomeClean {
		t.Fatalf("expected clean initial decision, got %s", res.Initial.Outcome)
	}
	if _, ok := awaitRevised(t, res.Revised); ok {
		t.Fatalf("expected no revised decision while loading")
	}
}

func TestEvaluateRevisedIncludesEntityFindings(t *testing.T) {
	o := NewOrchestrator(Config{
		Matcher:    pattern.NewMatcher(pattern.DefaultConfig()),
		Classifier: &stubClassifier{tokens: personTokens()},
		Monitor:    readyMonitor(),
		Rules:      testRules(),
	})

	res := o.Evaluate(context.Background(), "John Johnson wrote this")
	if res.Initial.Outcome != policy.OutcomeClean {
		t.Fatalf("expected clean initial decision, got %s", res.Initial.Outcome)
	}

	d, ok := awaitRevised(t, res.Revised)
	if !ok {
		t.Fatalf("expected a revised decision")
	}
	if d.Outcome != policy.OutcomeWarn {
		t.Fatalf("expected warn, got %s", d.Outcome)
	}
	if len(d.Warning) != 1 || d.Warning[0].RuleID != "person" {
		t.Fatalf("unexpected warning set %+v", d.Warning)
	}
	if d.Warning[0].Source != finding.LayerEntity {
		t.Fatalf("expected entity-layer finding, got %s", d.Warning[0].Source)
	}

	// Exactly one send, then close.
	if _, ok := awaitRevised(t, res.Revised); ok {
		t.Fatalf("expected revised channel closed after one decision")
	}
}

func TestEvaluateDegradesOnClassifierError(t *testing.T) {
	mon := readyMonitor()
	o := NewOrchestrator(Config{
		Matcher:    pattern.NewMatcher(pattern.DefaultConfig()),
		Classifier: &stubClassifier{err: errors.New("connection reset")},
		Monitor:    mon,
		Rules:      testRules(),
	})

	res := o.Evaluate(context.Background(), "reach me at bob@example.com")
	d, ok := awaitRevised(t, res.Revised)
	if !ok {
		t.Fatalf("expected a revised decision")
	}
	if d.Outcome != res.Initial.Outcome {
		t.Fatalf("degraded revised decision should match initial: %s vs %s", d.Outcome, res.Initial.Outcome)
	}
	if mon.Snapshot() != reachability.StateUnavailable {
		t.Fatalf("expected monitor marked unavailable, got %s", mon.Snapshot())
	}
}

func TestEvaluateMergedDecisionCombinesLayers(t *testing.T) {
	rules := testRules()
	rules["email"] = policy.Rule{ID: "email", DetectEnabled: true, BlockOnMatch: true, Severity: policy.SeverityHigh}

	tokens := personTokens()
	o := NewOrchestrator(Config{
		Matcher:    pattern.NewMatcher(pattern.DefaultConfig()),
		Classifier: &stubClassifier{tokens: tokens},
		Monitor:    readyMonitor(),
		Rules:      rules,
	})

	res := o.Evaluate(context.Background(), "John Johnson: alice@example.com")
	d, ok := awaitRevised(t, res.Revised)
	if !ok {
		t.Fatalf("expected a revised decision")
	}
	if d.Outcome != policy.OutcomeBlock {
		t.Fatalf("expected block, got %s", d.Outcome)
	}
	if len(d.Blocking) != 1 || len(d.Warning) != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func personTokens() []entity.Token {
	return []entity.Token{
		{Tag: entity.TagBegin, Category: entity.CategoryPerson, Span: finding.Span{Start: 0, End: 4}, Confidence: 0.95, Text: "John"},
		{Tag: entity.TagInside, Category: entity.CategoryPerson, Span: finding.Span{Start: 5, End: 12}, Confidence: 0.9, Text: "Johnson"},
	}
}

func TestDebouncerCoalescesFastTriggers(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, time.Hour)
	defer d.Stop()

	var mu sync.Mutex
	fired := 0
	for i := 0; i < 5; i++ {
		d.TriggerFast(func() {
			mu.Lock()
			fired++
			mu.Unlock()
		})
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("expected one coalesced firing, got %d", fired)
	}
}

func TestDebouncerChannelsAreIndependent(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 30*time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	var order []string
	d.TriggerSlow(func() {
		mu.Lock()
		order = append(order, "slow")
		mu.Unlock()
	})
	// Fast retriggers must not reset the slow timer.
	for i := 0; i < 3; i++ {
		d.TriggerFast(func() {
			mu.Lock()
			order = append(order, "fast")
			mu.Unlock()
		})
		time.Sleep(4 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "fast" || order[1] != "slow" {
		t.Fatalf("unexpected firing order %v", order)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 10*time.Millisecond)

	var mu sync.Mutex
	fired := false
	d.TriggerFast(func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatalf("expected no firing after Stop")
	}
}
