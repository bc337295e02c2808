package detection

import "sync"

// Tracker holds the highest Confidence observed over its lifetime.
// It is safe for concurrent use and never decreases.
type Tracker struct {
	mu       sync.Mutex
	level    Confidence
	onChange func(Confidence)
}

// NewTracker returns a Tracker starting at FalsePositive. onChange, if not
// nil, is called with the new level each time the level increases. It runs
// with the tracker locked, so notifications arrive in increasing order and
// onChange must not call back into the Tracker.
func NewTracker(onChange func(Confidence)) *Tracker {
	return &Tracker{level: FalsePositive, onChange: onChange}
}

// Observe raises the tracked level to c if c is higher and reports whether
// the level changed.
func (t *Tracker) Observe(c Confidence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c <= t.level {
		return false
	}
	t.level = c
	if t.onChange != nil {
		t.onChange(c)
	}
	return true
}

// Level returns the highest confidence observed so far.
func (t *Tracker) Level() Confidence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}
