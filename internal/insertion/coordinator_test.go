package insertion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/policy"
)

type fakeSurface struct {
	mu       sync.Mutex
	id       string
	kind     AnchorKind
	content  string
	attached bool
	focused  int
}

func newFakeSurface(id string, kind AnchorKind, content string) *fakeSurface {
	return &fakeSurface{id: id, kind: kind, content: content, attached: true}
}

func (s *fakeSurface) ID() string       { return s.id }
func (s *fakeSurface) Kind() AnchorKind { return s.kind }

func (s *fakeSurface) Read() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

func (s *fakeSurface) Write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
	return nil
}

func (s *fakeSurface) Focus() {
	s.mu.Lock()
	s.focused++
	s.mu.Unlock()
}

func (s *fakeSurface) focusCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *fakeSurface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *fakeSurface) detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

type fakePrompter struct {
	allow  bool
	called bool
}

func (p *fakePrompter) ConfirmBlocked(context.Context, policy.Decision, string) bool {
	p.called = true
	return p.allow
}

type fakeNotifier struct {
	mu         sync.Mutex
	rolledBack []Context
	lost       []Context
}

func (n *fakeNotifier) RolledBack(c Context, _ policy.Decision) {
	n.mu.Lock()
	n.rolledBack = append(n.rolledBack, c)
	n.mu.Unlock()
}

func (n *fakeNotifier) RollbackLost(c Context, _ policy.Decision) {
	n.mu.Lock()
	n.lost = append(n.lost, c)
	n.mu.Unlock()
}

func (n *fakeNotifier) lostCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lost)
}

func (n *fakeNotifier) rolledBackCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rolledBack)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func warnDecision() policy.Decision {
	return policy.Decision{Outcome: policy.OutcomeWarn}
}

func blockDecision() policy.Decision {
	return policy.Decision{Outcome: policy.OutcomeBlock}
}

func TestInsertCommitsOptimistically(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "dear ")
	c := NewCoordinator(CoordinatorConfig{})

	revised := make(chan policy.Decision, 1)
	act, err := c.Insert(context.Background(), surface, "Alice", "scan-1", warnDecision(), revised)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if act.State() != StateCommitted {
		t.Fatalf("expected committed, got %s", act.State())
	}
	if got := surface.Read(); got != "dear Alice" {
		t.Fatalf("unexpected content %q", got)
	}

	// A clean revision leaves the commit in place.
	revised <- policy.Decision{Outcome: policy.OutcomeClean}
	close(revised)
	time.Sleep(50 * time.Millisecond)
	if act.State() != StateCommitted {
		t.Fatalf("expected committed after clean revision, got %s", act.State())
	}
}

func TestInsertRollsBackOnLateBlock(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "dear ")
	notifier := &fakeNotifier{}
	c := NewCoordinator(CoordinatorConfig{Notifier: notifier})

	revised := make(chan policy.Decision, 1)
	act, err := c.Insert(context.Background(), surface, "078-05-1120", "scan-1", warnDecision(), revised)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := surface.Read(); got != "dear 078-05-1120" {
		t.Fatalf("unexpected content before revision %q", got)
	}

	revised <- blockDecision()
	close(revised)

	waitFor(t, func() bool { return act.State() == StateRolledBack })
	if got := surface.Read(); got != "dear " {
		t.Fatalf("expected prior content restored, got %q", got)
	}
	if notifier.rolledBackCount() != 1 {
		t.Fatalf("expected one rollback notification")
	}
}

func TestInsertBlockedDeniedWritesNothing(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "note: ")
	prompter := &fakePrompter{allow: false}
	c := NewCoordinator(CoordinatorConfig{Prompter: prompter})

	act, err := c.Insert(context.Background(), surface, "secret", "scan-1", blockDecision(), nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !prompter.called {
		t.Fatalf("expected prompter consulted")
	}
	if act.State() != StateDenied {
		t.Fatalf("expected denied, got %s", act.State())
	}
	if got := surface.Read(); got != "note: " {
		t.Fatalf("surface mutated on denied insert: %q", got)
	}
}

func TestInsertBlockedAllowedCommitsAndIsFinal(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "note: ")
	c := NewCoordinator(CoordinatorConfig{Prompter: &fakePrompter{allow: true}})

	revised := make(chan policy.Decision, 1)
	revised <- blockDecision()
	close(revised)

	act, err := c.Insert(context.Background(), surface, "secret", "scan-1", blockDecision(), revised)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if act.State() != StateCommitted {
		t.Fatalf("expected committed, got %s", act.State())
	}

	time.Sleep(50 * time.Millisecond)
	if got := surface.Read(); got != "note: secret" {
		t.Fatalf("override undone by revision: %q", got)
	}
}

func TestRollbackReanchorsWhenSurfaceDetached(t *testing.T) {
	original := newFakeSurface("field-1", AnchorPlainField, "hello ")
	replacement := newFakeSurface("field-2", AnchorPlainField, "hello world")
	registry := NewRegistry()
	registry.Register(original)
	registry.Register(replacement)

	c := NewCoordinator(CoordinatorConfig{Registry: registry})

	revised := make(chan policy.Decision, 1)
	act, err := c.Insert(context.Background(), original, "world", "scan-1", warnDecision(), revised)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	original.detach()
	revised <- blockDecision()
	close(revised)

	waitFor(t, func() bool { return act.State() == StateRolledBack })
	if got := replacement.Read(); got != "hello " {
		t.Fatalf("expected compensation on replacement surface, got %q", got)
	}
	if replacement.focusCount() == 0 {
		t.Fatalf("expected replacement surface focused after compensation")
	}
}

func TestRollbackLostWhenNoAnchorRemains(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "hi ")
	notifier := &fakeNotifier{}
	c := NewCoordinator(CoordinatorConfig{Notifier: notifier})

	revised := make(chan policy.Decision, 1)
	act, err := c.Insert(context.Background(), surface, "there", "scan-1", warnDecision(), revised)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	surface.detach()
	revised <- blockDecision()
	close(revised)

	waitFor(t, func() bool { return notifier.lostCount() == 1 })
	// No rollback happened, and the action must say so.
	if act.State() != StateRollbackLost {
		t.Fatalf("expected rollback_lost, got %s", act.State())
	}
	// The detached surface keeps whatever it had; no writes land on it.
	if got := surface.Read(); got != "hi there" {
		t.Fatalf("unexpected content on detached surface %q", got)
	}
}

func TestBlockedOverrideSupersedesPendingAction(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "")
	notifier := &fakeNotifier{}
	c := NewCoordinator(CoordinatorConfig{
		Prompter: &fakePrompter{allow: true},
		Notifier: notifier,
	})

	// Optimistic insert with its revision still outstanding.
	firstRevised := make(chan policy.Decision, 1)
	first, err := c.Insert(context.Background(), surface, "alpha", "scan-1", warnDecision(), firstRevised)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// Blocked insert on the same surface, approved by the user.
	override, err := c.Insert(context.Background(), surface, "secret", "scan-2", blockDecision(), nil)
	if err != nil {
		t.Fatalf("override insert: %v", err)
	}
	if override.State() != StateCommitted {
		t.Fatalf("expected committed override, got %s", override.State())
	}

	// The first scan's late block must not compensate: the override
	// superseded that action, so the approved content stays.
	firstRevised <- blockDecision()
	close(firstRevised)

	time.Sleep(50 * time.Millisecond)
	if got := surface.Read(); got != "alphasecret" {
		t.Fatalf("late block clobbered user-approved content: %q", got)
	}
	if first.State() != StateCommitted {
		t.Fatalf("superseded action rolled back: %s", first.State())
	}
	if notifier.rolledBackCount() != 0 {
		t.Fatalf("unexpected rollback notification")
	}
}

func TestNewerInsertionSupersedesOlder(t *testing.T) {
	surface := newFakeSurface("field-1", AnchorPlainField, "")
	notifier := &fakeNotifier{}
	c := NewCoordinator(CoordinatorConfig{Notifier: notifier})

	firstRevised := make(chan policy.Decision, 1)
	first, err := c.Insert(context.Background(), surface, "alpha", "scan-1", warnDecision(), firstRevised)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	secondRevised := make(chan policy.Decision, 1)
	second, err := c.Insert(context.Background(), surface, "beta", "scan-2", warnDecision(), secondRevised)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}

	// The first scan's late block must not compensate: its action was
	// superseded by the second insertion on the same surface.
	firstRevised <- blockDecision()
	close(firstRevised)

	time.Sleep(50 * time.Millisecond)
	if first.State() != StateCommitted {
		t.Fatalf("superseded action rolled back: %s", first.State())
	}
	if got := surface.Read(); got != "alphabeta" {
		t.Fatalf("unexpected content %q", got)
	}
	if notifier.rolledBackCount() != 0 {
		t.Fatalf("unexpected rollback notification")
	}

	// The newer action still honors its own revision.
	secondRevised <- blockDecision()
	close(secondRevised)
	waitFor(t, func() bool { return second.State() == StateRolledBack })
	if got := surface.Read(); got != "alpha" {
		t.Fatalf("expected second insertion compensated, got %q", got)
	}
}
