package entity

import (
	"strings"

	"github.com/privacyshield-ai/privacyshield/internal/finding"
)

// Tag is the BIO position of a token relative to an entity span.
type Tag string

const (
	TagBegin   Tag = "B"
	TagInside  Tag = "I"
	TagOutside Tag = "O"
)

// Canonical entity categories emitted by the aggregator.
const (
	CategoryPerson       = "PERSON"
	CategoryOrganization = "ORGANIZATION"
	CategoryLocation     = "LOCATION"
	CategoryMisc         = "MISC"
)

// subwordMarker prefixes WordPiece continuation tokens.
const subwordMarker = "##"

// Token is one token-level classification produced by the NER collaborator.
type Token struct {
	Tag        Tag          `json:"tag"`
	Category   string       `json:"category"`
	Subword    bool         `json:"subword"`
	Span       finding.Span `json:"span"`
	Confidence float32      `json:"confidence"`
	Text       string       `json:"text"`
}

// CategoryFromLabel maps raw model categories to canonical ones. Unknown
// labels pass through unchanged so new model vocabularies still surface.
func CategoryFromLabel(label string) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PER", "PERSON":
		return CategoryPerson
	case "ORG", "ORGANIZATION":
		return CategoryOrganization
	case "LOC", "LOCATION":
		return CategoryLocation
	case "MISC":
		return CategoryMisc
	default:
		return strings.ToUpper(strings.TrimSpace(label))
	}
}

// SplitLabel decomposes a BIO label like "B-PER" into its tag and raw
// category. A bare "O" yields the outside tag; a label without a prefix is
// treated as a begin so unprefixed model vocabularies still produce entities.
func SplitLabel(label string) (Tag, string) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "O") {
		return TagOutside, ""
	}
	parts := strings.SplitN(label, "-", 2)
	if len(parts) == 1 {
		return TagBegin, parts[0]
	}
	switch strings.ToUpper(parts[0]) {
	case "B":
		return TagBegin, parts[1]
	case "I":
		return TagInside, parts[1]
	default:
		return TagBegin, label
	}
}

// RuleIDForCategory maps an entity category to its policy rule.
func RuleIDForCategory(category string) string {
	switch category {
	case CategoryPerson:
		return "person"
	case CategoryOrganization:
		return "organization"
	case CategoryLocation:
		return "location"
	default:
		return strings.ToLower(category)
	}
}

type accumulator struct {
	category  string
	value     strings.Builder
	span      finding.Span
	confSum   float64
	confCount int
}

// Aggregate merges a stream of token classifications into entity findings.
// It is a pure function of its input: the same stream always yields the same
// findings.
//
// Tokens below the confidence threshold, outside any entity, or in the MISC
// category are dropped. Begin tags open a new accumulator; inside tags of the
// same category extend it, gluing the token directly when its span is
// contiguous or one character away and inserting a single space otherwise.
// An inside tag with no open accumulator is treated as an implicit begin so
// tagging noise never loses a detection.
func Aggregate(tokens []Token, threshold float32) []finding.Finding {
	if len(tokens) == 0 {
		return nil
	}

	var (
		done []*accumulator
		cur  *accumulator
	)

	flush := func() {
		if cur != nil {
			done = append(done, cur)
			cur = nil
		}
	}
	open := func(tok Token) {
		cur = &accumulator{
			category: tok.Category,
			span:     tok.Span,
		}
		cur.value.WriteString(stripSubword(tok.Text))
		cur.confSum = float64(tok.Confidence)
		cur.confCount = 1
	}

	for _, tok := range tokens {
		if tok.Confidence < threshold {
			continue
		}
		if tok.Tag == TagOutside || tok.Category == "" || tok.Category == CategoryMisc {
			continue
		}

		switch {
		case tok.Tag == TagBegin:
			flush()
			open(tok)
		case cur == nil || tok.Category != cur.category:
			// Inside tag with no open accumulator, or a category switch:
			// implicit begin.
			flush()
			open(tok)
		default:
			gap := tok.Span.Start - cur.span.End
			if gap > 1 {
				cur.value.WriteByte(' ')
			}
			cur.value.WriteString(stripSubword(tok.Text))
			if tok.Span.End > cur.span.End {
				cur.span.End = tok.Span.End
			}
			cur.confSum += float64(tok.Confidence)
			cur.confCount++
		}
	}
	flush()

	return dedupeByCategory(done)
}

// dedupeByCategory keeps the longest value per category, first-seen winning
// ties, and emits findings in first-seen order.
func dedupeByCategory(accs []*accumulator) []finding.Finding {
	if len(accs) == 0 {
		return nil
	}

	best := make(map[string]*accumulator, len(accs))
	values := make(map[*accumulator]string, len(accs))
	for _, a := range accs {
		v := collapseWhitespace(a.value.String())
		if v == "" {
			continue
		}
		values[a] = v
		prev, ok := best[a.category]
		if !ok || len(v) > len(values[prev]) {
			best[a.category] = a
		}
	}

	out := make([]finding.Finding, 0, len(best))
	for _, a := range accs {
		if best[a.category] != a {
			continue
		}
		span := a.span
		conf := float32(0)
		if a.confCount > 0 {
			conf = float32(a.confSum / float64(a.confCount))
		}
		out = append(out, finding.Finding{
			Kind:       a.category,
			RuleID:     RuleIDForCategory(a.category),
			Value:      values[a],
			Span:       &span,
			Confidence: conf,
			Source:     finding.LayerEntity,
		})
	}
	return out
}

func stripSubword(text string) string {
	return strings.TrimPrefix(text, subwordMarker)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
