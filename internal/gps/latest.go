package gps

import "sync"

// Latest is a single-slot cell holding the most recent fix and whether it
// has been consumed. A Publish that happens before a Take silently replaces
// the pending fix.
type Latest struct {
	mu    sync.Mutex
	fix   Fix
	ready bool
}

// Publish stores fix and marks it ready.
func (l *Latest) Publish(fix Fix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = fix
	l.ready = true
}

// Take returns a copy of the pending fix and clears readiness. It returns
// false and a zero Fix when nothing is pending.
func (l *Latest) Take() (Fix, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return Fix{}, false
	}
	l.ready = false
	return l.fix, true
}

// Invalidate marks the stored fix as no longer valid without changing
// readiness, so a pending fix is still delivered but flagged stale.
func (l *Latest) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix.Valid = false
}

// Reset clears both the stored fix and the ready flag.
func (l *Latest) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fix = Fix{}
	l.ready = false
}
