// Package attempts counts failed registration submissions per user over a
// sliding window.
package attempts

import (
	"sync"
	"time"
)

// Attempt is one recorded failure.
type Attempt struct {
	At   time.Time
	Kind string
}

// Tracker holds recent failures per user. Entries older than the window are
// pruned whenever a user is touched and on Sweep.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	records   map[string][]Attempt
	now       func() time.Time
}

// NewTracker creates a tracker that reports a user as exceeded once they
// have threshold failures inside window.
func NewTracker(threshold int, window time.Duration) *Tracker {
	return &Tracker{
		threshold: threshold,
		window:    window,
		records:   make(map[string][]Attempt),
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordFailure appends a failure for userID and reports whether the user
// has now reached the threshold.
func (t *Tracker) RecordFailure(userID, kind string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entries := append(t.prune(t.records[userID], now), Attempt{At: now, Kind: kind})
	t.records[userID] = entries
	return len(entries) >= t.threshold
}

// Exceeded reports whether userID is at or above the threshold, and if so
// how long until enough failures age out to drop below it.
func (t *Tracker) Exceeded(userID string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entries := t.prune(t.records[userID], now)
	if len(entries) == 0 {
		delete(t.records, userID)
		return false, 0
	}
	t.records[userID] = entries

	if len(entries) < t.threshold {
		return false, 0
	}
	// The entry at len-threshold is the one whose expiry brings the count
	// back under the threshold.
	pivot := entries[len(entries)-t.threshold]
	return true, pivot.At.Add(t.window).Sub(now)
}

// Count returns the in-window failures for userID.
func (t *Tracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(t.records[userID], t.now()))
}

// Sweep prunes every user and drops users left with no failures.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for userID, entries := range t.records {
		kept := t.prune(entries, now)
		removed += len(entries) - len(kept)
		if len(kept) == 0 {
			delete(t.records, userID)
			continue
		}
		t.records[userID] = kept
	}
	return removed
}

// Len returns the number of users with tracked failures.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Name identifies the tracker in logs and metrics.
func (t *Tracker) Name() string { return "failed_attempts" }

// prune drops entries at or past the window. Entries are stored in time
// order so the first one inside the window bounds the slice.
func (t *Tracker) prune(entries []Attempt, now time.Time) []Attempt {
	i := 0
	for i < len(entries) && now.Sub(entries[i].At) >= t.window {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]Attempt(nil), entries[i:]...)
}
