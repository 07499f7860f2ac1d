package finding

// Layer identifies which detection layer produced a finding.
type Layer string

const (
	LayerPattern Layer = "pattern"
	LayerEntity  Layer = "entity"
)

// Span is a half-open (start, end) character range into the scanned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the span is a non-empty range within a text of the
// given length.
func (s Span) Valid(textLen int) bool {
	return s.Start >= 0 && s.End > s.Start && s.End <= textLen
}

// Finding is one detected occurrence before policy evaluation.
type Finding struct {
	Kind       string  `json:"kind"`
	RuleID     string  `json:"rule_id"`
	Value      string  `json:"value"`
	Span       *Span   `json:"span,omitempty"`
	Confidence float32 `json:"confidence"`
	Source     Layer   `json:"source"`
}
