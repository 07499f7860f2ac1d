package insertion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/privacyshield-ai/privacyshield/internal/audit"
	"github.com/privacyshield-ai/privacyshield/internal/policy"
	"github.com/privacyshield-ai/privacyshield/internal/redact"
	"github.com/privacyshield-ai/privacyshield/internal/telemetry"
)

// State is an insertion action's lifecycle position.
type State string

const (
	StatePending    State = "pending"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
	// StateRollbackLost marks a compensation that could not be applied: the
	// inserted content is still out there, only the notice was delivered.
	StateRollbackLost State = "rollback_lost"
	StateDenied       State = "denied"
)

// Context captures everything a compensating rollback needs. It is built
// before the surface is mutated, so PriorContent is trustworthy even if the
// surface changes underneath us later.
type Context struct {
	ActionID      string
	SurfaceID     string
	Kind          AnchorKind
	PriorContent  string
	InsertedValue string
}

// Action is one tracked insertion.
type Action struct {
	Context Context

	mu    sync.Mutex
	state State
}

func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Action) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Prompter asks the user whether a blocked insertion should proceed anyway.
type Prompter interface {
	ConfirmBlocked(ctx context.Context, decision policy.Decision, value string) bool
}

// Notifier surfaces rollback outcomes to the embedding application.
type Notifier interface {
	RolledBack(c Context, decision policy.Decision)
	RollbackLost(c Context, decision policy.Decision)
}

// Coordinator applies insertions optimistically and compensates them when a
// revised decision blocks. One pending action is tracked per surface; a
// newer insertion on the same surface supersedes the older one, whose late
// revision is then ignored.
type Coordinator struct {
	registry  *Registry
	prompter  Prompter
	notifier  Notifier
	audit     *audit.Emitter
	telemetry *telemetry.Provider

	mu      sync.Mutex
	pending map[string]string // surface id -> action id awaiting revision
}

// CoordinatorConfig wires collaborators. Registry is required; the rest are
// optional.
type CoordinatorConfig struct {
	Registry  *Registry
	Prompter  Prompter
	Notifier  Notifier
	Audit     *audit.Emitter
	Telemetry *telemetry.Provider
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Coordinator{
		registry:  reg,
		prompter:  cfg.Prompter,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		telemetry: cfg.Telemetry,
		pending:   make(map[string]string),
	}
}

// Insert applies value to surface under the given decisions. A blocking
// initial decision withholds the write until the user confirms; otherwise
// the write is committed optimistically and revised is watched for a late
// block. The returned action reflects the synchronous phase; its state may
// still move to rolled_back when the revision lands.
func (c *Coordinator) Insert(ctx context.Context, surface Surface, value string, scanID string, initial policy.Decision, revised <-chan policy.Decision) (*Action, error) {
	if surface == nil {
		return nil, fmt.Errorf("insert: nil surface")
	}

	act := &Action{
		Context: Context{
			ActionID:      uuid.NewString(),
			SurfaceID:     surface.ID(),
			Kind:          surface.Kind(),
			PriorContent:  surface.Read(),
			InsertedValue: value,
		},
		state: StatePending,
	}

	if initial.Outcome == policy.OutcomeBlock {
		if c.prompter == nil || !c.prompter.ConfirmBlocked(ctx, initial, value) {
			act.setState(StateDenied)
			c.emit(audit.KindBlockedDenied, scanID, act, initial, "")
			return act, nil
		}
		if err := surface.Write(act.Context.PriorContent + value); err != nil {
			return nil, fmt.Errorf("insert: %w", err)
		}
		// An explicit user override is final; the revision cannot undo it.
		act.setState(StateCommitted)
		c.emit(audit.KindBlockedAllowed, scanID, act, initial, "")
		// The override still supersedes any older optimistic action on this
		// surface, and being final it leaves nothing pending itself.
		c.supersede(surface.ID(), act, scanID)
		c.takePending(surface.ID(), act)
		return act, nil
	}

	if err := surface.Write(act.Context.PriorContent + value); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	act.setState(StateCommitted)
	c.emit(audit.KindCommit, scanID, act, initial, "")

	c.supersede(surface.ID(), act, scanID)

	if revised != nil {
		go c.watch(scanID, surface, act, revised)
	}
	return act, nil
}

// supersede installs act as the surface's pending action, discarding any
// older one so its late revision is ignored.
func (c *Coordinator) supersede(surfaceID string, act *Action, scanID string) {
	c.mu.Lock()
	prev, had := c.pending[surfaceID]
	c.pending[surfaceID] = act.Context.ActionID
	c.mu.Unlock()

	if had && prev != act.Context.ActionID {
		ev := audit.NewEvent(audit.KindSupersession)
		ev.ScanID = scanID
		ev.ActionID = prev
		ev.Anchor = surfaceID
		ev.Note = "superseded by " + act.Context.ActionID
		if c.audit != nil {
			c.audit.Emit(context.Background(), ev)
		}
	}
}

// takePending reports whether act is the surface's current pending action
// and, when it is, retires it.
func (c *Coordinator) takePending(surfaceID string, act *Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[surfaceID] != act.Context.ActionID {
		return false
	}
	delete(c.pending, surfaceID)
	return true
}

func (c *Coordinator) watch(scanID string, surface Surface, act *Action, revised <-chan policy.Decision) {
	decision, ok := <-revised
	if !ok {
		// Channel closed without a revision: the initial decision stands.
		c.takePending(act.Context.SurfaceID, act)
		return
	}

	if !c.takePending(act.Context.SurfaceID, act) {
		return
	}
	if decision.Outcome != policy.OutcomeBlock {
		return
	}
	c.rollback(scanID, surface, act, decision)
}

// rollback compensates a committed insertion. The original surface is
// preferred; a detached surface falls back to an equivalent anchor from the
// registry, and when none exists the loss is reported instead of silently
// dropped.
func (c *Coordinator) rollback(scanID string, surface Surface, act *Action, decision policy.Decision) {
	target := surface
	if !target.Attached() {
		cand, ok := c.registry.FindByKind(act.Context.Kind, act.Context.SurfaceID)
		if !ok {
			act.setState(StateRollbackLost)
			c.emit(audit.KindRollbackLost, scanID, act, decision, "no equivalent anchor")
			if c.telemetry != nil {
				c.telemetry.RecordRollback("lost")
			}
			if c.notifier != nil {
				c.notifier.RollbackLost(act.Context, decision)
			}
			return
		}
		target = cand
	}

	if err := target.Write(act.Context.PriorContent); err != nil {
		redact.Logf("rollback of action %s on surface %s failed: %v", act.Context.ActionID, target.ID(), err)
		act.setState(StateRollbackLost)
		c.emit(audit.KindRollbackLost, scanID, act, decision, "write failed")
		if c.telemetry != nil {
			c.telemetry.RecordRollback("lost")
		}
		if c.notifier != nil {
			c.notifier.RollbackLost(act.Context, decision)
		}
		return
	}

	target.Focus()
	act.setState(StateRolledBack)
	c.emit(audit.KindRollback, scanID, act, decision, "")
	if c.telemetry != nil {
		c.telemetry.RecordRollback("done")
	}
	if c.notifier != nil {
		c.notifier.RolledBack(act.Context, decision)
	}
}

func (c *Coordinator) emit(kind audit.EventKind, scanID string, act *Action, d policy.Decision, note string) {
	if c.audit == nil {
		return
	}
	ev := audit.NewEvent(kind)
	ev.ScanID = scanID
	ev.ActionID = act.Context.ActionID
	ev.Anchor = act.Context.SurfaceID
	ev.Outcome = string(d.Outcome)
	ev.Note = note
	c.audit.Emit(context.Background(), ev)
}
