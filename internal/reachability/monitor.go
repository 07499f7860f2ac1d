package reachability

import (
	"context"
	"sync"
	"time"

	"github.com/privacyshield-ai/privacyshield/internal/redact"
)

// State is the classification collaborator's lifecycle state.
type State string

const (
	StateUnknown     State = "unknown"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
)

// Prober is any timeout-bounded boolean health check.
type Prober interface {
	Healthy(ctx context.Context) (bool, error)
}

// Monitor owns the reachability state machine. Readers take snapshots;
// only the monitor mutates state. Subscribers are notified on actual state
// change, never on every probe, so rapid flapping coalesces.
type Monitor struct {
	prober       Prober
	probeTimeout time.Duration
	interval     time.Duration

	mu    sync.Mutex
	state State
	subs  map[int]chan State
	next  int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbeTimeout bounds each liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithProbeInterval sets the periodic probe cadence for Run.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor starts in StateUnknown.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:       prober,
		probeTimeout: 3 * time.Second,
		interval:     15 * time.Second,
		state:        StateUnknown,
		subs:         map[int]chan State{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state without blocking writers for long.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers for state-change notifications. The returned cancel
// function releases the subscription. Slow subscribers drop notifications
// instead of blocking the monitor.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan State, 4)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// BeginLoading marks collaborator initialization in progress.
func (m *Monitor) BeginLoading() {
	m.transition(StateLoading, "")
}

// SetReady marks the collaborator as able to serve requests.
func (m *Monitor) SetReady() {
	m.transition(StateReady, "")
}

// SetUnavailable marks the collaborator as unable to serve requests.
func (m *Monitor) SetUnavailable(reason string) {
	m.transition(StateUnavailable, reason)
}

func (m *Monitor) transition(to State, reason string) {
	m.mu.Lock()
	if m.state == to {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = to
	subs := make([]chan State, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if reason != "" {
		redact.Logf("reachability: %s -> %s (%s)", from, to, reason)
	} else {
		redact.Logf("reachability: %s -> %s", from, to)
	}
	for _, ch := range subs {
		select {
		case ch <- to:
		default:
		}
	}
}

// Probe runs one liveness check with a bounded timeout and applies the
// result: failure or error means Unavailable, success means Ready.
func (m *Monitor) Probe(ctx context.Context) State {
	if m.prober == nil {
		m.SetUnavailable("no prober configured")
		return m.Snapshot()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	ok, err := m.prober.Healthy(ctx)
	switch {
	case err != nil:
		m.SetUnavailable(err.Error())
	case !ok:
		m.SetUnavailable("probe reported unhealthy")
	default:
		m.SetReady()
	}
	return m.Snapshot()
}

// Run probes periodically until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
