package pattern

import (
	"regexp"
	"strings"

	"github.com/privacyshield-ai/privacyshield/internal/finding"
)

// Rule is one deterministic pattern detector. A rule contributes at most one
// finding per scan: presence of the pattern, not its position.
type Rule struct {
	Kind        string
	RuleID      string
	Placeholder string
	re          *regexp.Regexp
}

// Config toggles individual pattern detectors.
type Config struct {
	Email      bool
	Phone      bool
	CreditCard bool
	IBAN       bool
	SSN        bool
	APIToken   bool

	// RetainValues keeps the matched substring in the finding. When false the
	// finding carries the rule's placeholder instead.
	RetainValues bool
}

// DefaultConfig enables every pattern detector without value retention.
func DefaultConfig() Config {
	return Config{
		Email:      true,
		Phone:      true,
		CreditCard: true,
		IBAN:       true,
		SSN:        true,
		APIToken:   true,
	}
}

// Matcher runs a fixed set of compiled pattern rules against text.
type Matcher struct {
	rules        []Rule
	retainValues bool
}

// NewMatcher compiles the enabled rules. All patterns are fixed at build time
// so Scan never compiles or errors.
func NewMatcher(cfg Config) *Matcher {
	rules := make([]Rule, 0, 6)
	if cfg.Email {
		rules = append(rules, Rule{
			Kind:        "email",
			RuleID:      "email",
			Placeholder: "[EMAIL]",
			re:          regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		})
	}
	if cfg.Phone {
		rules = append(rules, Rule{
			Kind:        "phone",
			RuleID:      "phone",
			Placeholder: "[PHONE]",
			re:          regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`),
		})
	}
	if cfg.CreditCard {
		rules = append(rules, Rule{
			Kind:        "credit_card",
			RuleID:      "financial",
			Placeholder: "[CREDIT_CARD]",
			re:          regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
		})
	}
	if cfg.IBAN {
		rules = append(rules, Rule{
			Kind:        "iban",
			RuleID:      "financial",
			Placeholder: "[IBAN]",
			re:          regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		})
	}
	if cfg.SSN {
		rules = append(rules, Rule{
			Kind:        "ssn",
			RuleID:      "ssn",
			Placeholder: "[SSN]",
			re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		})
	}
	if cfg.APIToken {
		rules = append(rules, Rule{
			Kind:        "api_token",
			RuleID:      "secrets",
			Placeholder: "[TOKEN]",
			re:          regexp.MustCompile(`\b(?:sk|pk|ghp|gho|xox[bps])[-_][A-Za-z0-9_\-]{16,}\b`),
		})
	}
	return &Matcher{rules: rules, retainValues: cfg.RetainValues}
}

// Scan tests every rule against the full text. Empty or whitespace-only text
// yields no findings; Scan never returns an error.
func (m *Matcher) Scan(text string) []finding.Finding {
	if m == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	var out []finding.Finding
	for _, r := range m.rules {
		match := r.re.FindString(text)
		if match == "" {
			continue
		}
		value := r.Placeholder
		if m.retainValues {
			value = match
		}
		out = append(out, finding.Finding{
			Kind:       r.Kind,
			RuleID:     r.RuleID,
			Value:      value,
			Confidence: 1.0,
			Source:     finding.LayerPattern,
		})
	}
	return out
}

// Rules exposes the compiled rule set for status reporting.
func (m *Matcher) Rules() []Rule {
	if m == nil {
		return nil
	}
	return m.rules
}
