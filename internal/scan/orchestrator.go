package scan

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/privacyshield-ai/privacyshield/internal/audit"
	"github.com/privacyshield-ai/privacyshield/internal/classifier"
	"github.com/privacyshield-ai/privacyshield/internal/entity"
	"github.com/privacyshield-ai/privacyshield/internal/finding"
	"github.com/privacyshield-ai/privacyshield/internal/pattern"
	"github.com/privacyshield-ai/privacyshield/internal/policy"
	"github.com/privacyshield-ai/privacyshield/internal/reachability"
	"github.com/privacyshield-ai/privacyshield/internal/redact"
	"github.com/privacyshield-ai/privacyshield/internal/telemetry"
)

// Result carries the synchronous initial decision plus a channel for the
// revised decision. Revised is buffered and receives at most one value
// before it is closed; when the classification layer is not consulted it is
// closed without a send, and the initial decision stands as final.
type Result struct {
	ScanID  string
	Initial policy.Decision
	Revised <-chan policy.Decision
}

// Orchestrator runs the two-phase scan: patterns synchronously, then the
// classification layer in the background when it is reachable.
type Orchestrator struct {
	matcher    *pattern.Matcher
	classifier classifier.Classifier
	monitor    *reachability.Monitor
	rules      policy.Table
	threshold  float32
	telemetry  *telemetry.Provider
	audit      *audit.Emitter
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Matcher             *pattern.Matcher
	Classifier          classifier.Classifier
	Monitor             *reachability.Monitor
	Rules               policy.Table
	ConfidenceThreshold float32
	Telemetry           *telemetry.Provider
	Audit               *audit.Emitter
}

// DefaultConfidenceThreshold drops low-confidence entity findings when the
// rule table does not set a per-rule threshold.
const DefaultConfidenceThreshold = 0.75

func NewOrchestrator(cfg Config) *Orchestrator {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Orchestrator{
		matcher:    cfg.Matcher,
		classifier: cfg.Classifier,
		monitor:    cfg.Monitor,
		rules:      cfg.Rules,
		threshold:  threshold,
		telemetry:  cfg.Telemetry,
		audit:      cfg.Audit,
	}
}

// Evaluate scans text and returns immediately with the pattern-layer
// decision. The classification pass runs in the background only when the
// collaborator is ready; its outcome arrives on Result.Revised.
func (o *Orchestrator) Evaluate(ctx context.Context, text string) Result {
	start := time.Now()
	scanID := uuid.NewString()

	patternFindings := o.matcher.Scan(text)
	initial := policy.Classify(patternFindings, o.rules)

	initialMs := float64(time.Since(start)) / float64(time.Millisecond)
	o.record(audit.KindScanInitial, scanID, initial, initialMs, "")
	if o.telemetry != nil {
		o.telemetry.RecordScan("initial", string(initial.Outcome), initialMs, 0, len(initial.Blocking)+len(initial.Warning))
	}

	revised := make(chan policy.Decision, 1)
	if o.classifier == nil || o.monitor == nil || o.monitor.Snapshot() != reachability.StateReady {
		close(revised)
		return Result{ScanID: scanID, Initial: initial, Revised: revised}
	}

	go o.revise(ctx, scanID, text, patternFindings, revised)

	return Result{ScanID: scanID, Initial: initial, Revised: revised}
}

// revise runs the classification pass and publishes exactly one revised
// decision. A classifier failure degrades to an empty entity set and marks
// the collaborator unavailable; the revised decision then matches the
// pattern-only one.
func (o *Orchestrator) revise(ctx context.Context, scanID, text string, patternFindings []finding.Finding, revised chan<- policy.Decision) {
	defer close(revised)

	start := time.Now()
	tokens, err := o.classifier.Classify(ctx, text)
	classifierMs := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		redact.Logf("scan %s: classifier failed, degrading to patterns: %v", scanID, err)
		o.monitor.SetUnavailable(err.Error())
		tokens = nil
	}

	entityFindings := entity.Aggregate(tokens, o.threshold)

	merged := make([]finding.Finding, 0, len(patternFindings)+len(entityFindings))
	merged = append(merged, patternFindings...)
	merged = append(merged, entityFindings...)

	decision := policy.Classify(merged, o.rules)
	revised <- decision

	totalMs := float64(time.Since(start)) / float64(time.Millisecond)
	o.record(audit.KindScanRevised, scanID, decision, totalMs, "")
	if o.telemetry != nil {
		o.telemetry.RecordScan("revised", string(decision.Outcome), totalMs, classifierMs, len(decision.Blocking)+len(decision.Warning))
	}
}

func (o *Orchestrator) record(kind audit.EventKind, scanID string, d policy.Decision, latencyMs float64, note string) {
	if o.audit == nil {
		return
	}
	ev := audit.NewEvent(kind)
	ev.ScanID = scanID
	ev.Outcome = string(d.Outcome)
	ev.RuleIDs = decisionRuleIDs(d)
	ev.LatencyMs = latencyMs
	ev.Note = note
	o.audit.Emit(context.Background(), ev)
}

func decisionRuleIDs(d policy.Decision) []string {
	if len(d.Blocking)+len(d.Warning) == 0 {
		return nil
	}
	ids := make([]string, 0, len(d.Blocking)+len(d.Warning))
	for _, f := range d.Blocking {
		ids = append(ids, f.RuleID)
	}
	for _, f := range d.Warning {
		ids = append(ids, f.RuleID)
	}
	return ids
}
