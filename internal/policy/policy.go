package policy

import (
	"strings"

	"github.com/privacyshield-ai/privacyshield/internal/finding"
	"github.com/privacyshield-ai/privacyshield/internal/redact"
)

// Severity orders rules from low to critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// ParseSeverity maps a config string to a Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "", "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// Rule is one configurable detection category.
type Rule struct {
	ID                  string
	DetectEnabled       bool
	BlockOnMatch        bool
	Severity            Severity
	ConfidenceThreshold float32
}

// Table is the rule configuration store view the engine reads from.
type Table map[string]Rule

// failSafeRule covers findings whose rule id is unknown: protection over
// permissiveness.
func failSafeRule(id string) Rule {
	return Rule{
		ID:            id,
		DetectEnabled: true,
		BlockOnMatch:  true,
		Severity:      SeverityCritical,
	}
}

// Lookup returns the rule for id, falling back to the fail-safe default for
// unknown ids. The second result reports whether the rule was configured.
func (t Table) Lookup(id string) (Rule, bool) {
	if r, ok := t[id]; ok {
		return r, true
	}
	return failSafeRule(id), false
}

// Outcome is the overall decision for a scanned text.
type Outcome string

const (
	OutcomeClean Outcome = "clean"
	OutcomeWarn  Outcome = "warn"
	OutcomeBlock Outcome = "block"
)

// Decision is the result of evaluating a merged finding set against the rule
// table. Blocking and Warning are disjoint and hold at most one finding per
// rule id.
type Decision struct {
	Outcome  Outcome           `json:"outcome"`
	Blocking []finding.Finding `json:"blocking,omitempty"`
	Warning  []finding.Finding `json:"warning,omitempty"`
}

// Classify evaluates findings in merge order. Disabled rules drop their
// findings; entity findings below the rule's confidence threshold drop too.
// When several findings map to one rule the first encountered wins,
// regardless of which layer contributed it.
func Classify(findings []finding.Finding, table Table) Decision {
	var (
		blocking []finding.Finding
		warning  []finding.Finding
		seen     = map[string]struct{}{}
	)

	for _, f := range findings {
		rule, known := table.Lookup(f.RuleID)
		if !known {
			redact.Logf("policy: no rule configured for %q; applying fail-safe block", f.RuleID)
		}
		if !rule.DetectEnabled {
			continue
		}
		if f.Source == finding.LayerEntity && f.Confidence < rule.ConfidenceThreshold {
			continue
		}
		if _, dup := seen[f.RuleID]; dup {
			continue
		}
		seen[f.RuleID] = struct{}{}

		if rule.BlockOnMatch {
			blocking = append(blocking, f)
		} else {
			warning = append(warning, f)
		}
	}

	out := Decision{Blocking: blocking, Warning: warning}
	switch {
	case len(blocking) > 0:
		out.Outcome = OutcomeBlock
	case len(warning) > 0:
		out.Outcome = OutcomeWarn
	default:
		out.Outcome = OutcomeClean
	}
	return out
}
