package cooldown

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Tracker is an in-memory fixed-window cooldown keyed by an arbitrary string.
// A denied attempt never resets the window.
type Tracker struct {
	mu     sync.Mutex
	name   string
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewTracker creates a tracker enforcing window between accepted actions.
func NewTracker(name string, window time.Duration) *Tracker {
	return &Tracker{
		name:   name,
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CheckAndMark accepts the action and records now when key has no entry or
// its window has elapsed. Otherwise it returns the remaining wait.
func (t *Tracker) CheckAndMark(_ context.Context, key string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < t.window {
			return false, t.window - elapsed, nil
		}
	}
	t.last[key] = now
	return true, 0, nil
}

// Reset forgets key so the next attempt is accepted.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}

// Sweep removes entries whose window has elapsed and returns how many went.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, last := range t.last {
		if now.Sub(last) >= t.window {
			delete(t.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// Name identifies the keyspace in logs and metrics.
func (t *Tracker) Name() string { return t.name }

// Window returns the configured window.
func (t *Tracker) Window() time.Duration { return t.window }

// RefreshKey keys the score-refresh keyspace by user and character.
func RefreshKey(userID, character string) string {
	return userID + ":" + strings.ToLower(character)
}

// ButtonKey keys the button keyspace by user, character and action. Bulk
// actions pass "*" as the character.
func ButtonKey(userID, character, action string) string {
	return userID + ":" + strings.ToLower(character) + ":" + action
}
