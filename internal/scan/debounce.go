package scan

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of edits into scans on two independent
// cadences: a fast one for the cheap pattern pass and a slow one for the
// full pass. Retriggering a channel restarts only that channel's timer.
type Debouncer struct {
	mu        sync.Mutex
	fastDelay time.Duration
	slowDelay time.Duration
	fastTimer *time.Timer
	slowTimer *time.Timer
	stopped   bool
}

const (
	defaultFastDelay = 150 * time.Millisecond
	defaultSlowDelay = 600 * time.Millisecond
)

func NewDebouncer(fast, slow time.Duration) *Debouncer {
	if fast <= 0 {
		fast = defaultFastDelay
	}
	if slow <= 0 {
		slow = defaultSlowDelay
	}
	return &Debouncer{fastDelay: fast, slowDelay: slow}
}

// TriggerFast schedules fn after the fast delay, replacing any pending fast
// callback. The slow timer is untouched.
func (d *Debouncer) TriggerFast(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.fastTimer != nil {
		d.fastTimer.Stop()
	}
	d.fastTimer = time.AfterFunc(d.fastDelay, fn)
}

// TriggerSlow schedules fn after the slow delay, replacing any pending slow
// callback. The fast timer is untouched.
func (d *Debouncer) TriggerSlow(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.slowTimer != nil {
		d.slowTimer.Stop()
	}
	d.slowTimer = time.AfterFunc(d.slowDelay, fn)
}

// Stop cancels pending callbacks. Further triggers are no-ops.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.fastTimer != nil {
		d.fastTimer.Stop()
		d.fastTimer = nil
	}
	if d.slowTimer != nil {
		d.slowTimer.Stop()
		d.slowTimer = nil
	}
}
