package audit

import (
	"time"
)

// EventKind names what happened.
type EventKind string

const (
	KindScanInitial    EventKind = "scan_initial"
	KindScanRevised    EventKind = "scan_revised"
	KindCommit         EventKind = "commit"
	KindRollback       EventKind = "rollback"
	KindRollbackLost   EventKind = "rollback_target_lost"
	KindSupersession   EventKind = "supersession"
	KindBlockedAllowed EventKind = "blocked_allowed"
	KindBlockedDenied  EventKind = "blocked_denied"
)

// Event is the canonical audit payload. Values are already redacted or
// placeholder-only by the time an event is built; sinks never see raw text.
type Event struct {
	Version   string    `json:"version"`
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	ScanID    string    `json:"scan_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	RuleIDs   []string  `json:"rule_ids,omitempty"`
	Anchor    string    `json:"anchor,omitempty"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// EventVersion is the current audit payload version.
const EventVersion = "1"

// NewEvent stamps version and time.
func NewEvent(kind EventKind) *Event {
	return &Event{
		Version: EventVersion,
		Time:    time.Now().UTC(),
		Kind:    kind,
	}
}
