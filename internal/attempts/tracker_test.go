package attempts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_FiveFailuresInAnHour(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(5, time.Hour).WithClock(clock.Now)

	for i := 0; i < 4; i++ {
		assert.False(t, tr.RecordFailure("u1", "malformed_link"))
		clock.Advance(time.Minute)
	}
	exceeded, _ := tr.Exceeded("u1")
	assert.False(t, exceeded, "four failures stay under the threshold")

	assert.True(t, tr.RecordFailure("u1", "name_mismatch"), "fifth failure reaches the threshold")

	exceeded, retry := tr.Exceeded("u1")
	assert.True(t, exceeded)
	// Oldest failure was at T=0; it ages out at T=60m, now is T=4m.
	assert.Equal(t, 56*time.Minute, retry)
}

func TestTracker_OldFailuresAgeOut(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(5, time.Hour).WithClock(clock.Now)

	for i := 0; i < 5; i++ {
		tr.RecordFailure("u1", "invalid_role")
	}
	exceeded, _ := tr.Exceeded("u1")
	assert.True(t, exceeded)

	clock.Advance(time.Hour + time.Second)
	exceeded, _ = tr.Exceeded("u1")
	assert.False(t, exceeded, "failures older than the window no longer count")
	assert.Zero(t, tr.Count("u1"))
}

func TestTracker_UsersAreIndependent(t *testing.T) {
	tr := NewTracker(2, time.Hour)
	tr.RecordFailure("u1", "x")
	tr.RecordFailure("u1", "x")

	exceeded, _ := tr.Exceeded("u1")
	assert.True(t, exceeded)
	exceeded, _ = tr.Exceeded("u2")
	assert.False(t, exceeded)
}

func TestTracker_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(5, time.Hour).WithClock(clock.Now)

	tr.RecordFailure("stale", "x")
	tr.RecordFailure("stale", "x")
	clock.Advance(50 * time.Minute)
	tr.RecordFailure("fresh", "x")
	clock.Advance(20 * time.Minute)

	removed := tr.Sweep(clock.Now())
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1, tr.Count("fresh"))
}
