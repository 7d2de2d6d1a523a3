package cooldown

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/pkg/interfaces"
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

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTracker_InterfaceCompliance(t *testing.T) {
	var _ interfaces.CooldownStore = NewTracker("t", time.Second)
	var _ interfaces.CooldownStore = &RedisTracker{}
}

func TestTracker_RefreshWindow(t *testing.T) {
	clock := newClock()
	tr := NewTracker("refresh", 300*time.Second).WithClock(clock.Now)
	ctx := context.Background()
	key := RefreshKey("u1", "Arthas")

	ok, _, err := tr.CheckAndMark(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "first attempt at T=0 is accepted")

	clock.Advance(120 * time.Second)
	ok, retry, err := tr.CheckAndMark(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "attempt at T=120 is denied")
	assert.Equal(t, 180*time.Second, retry)

	clock.Advance(181 * time.Second)
	ok, _, err = tr.CheckAndMark(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "attempt at T=301 is accepted")
}

func TestTracker_DeniedAttemptDoesNotResetWindow(t *testing.T) {
	clock := newClock()
	tr := NewTracker("button", 30*time.Second).WithClock(clock.Now)
	ctx := context.Background()
	key := ButtonKey("u1", "Arthas", "set_available")

	ok, _, _ := tr.CheckAndMark(ctx, key)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		ok, _, _ = tr.CheckAndMark(ctx, key)
		assert.False(t, ok)
	}

	clock.Advance(5 * time.Second)
	ok, _, _ = tr.CheckAndMark(ctx, key)
	assert.True(t, ok, "window counts from the last accepted attempt")
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr := NewTracker("button", 30*time.Second).WithClock(newClock().Now)
	ctx := context.Background()

	for _, key := range []string{
		ButtonKey("u1", "Arthas", "set_available"),
		ButtonKey("u1", "Arthas", "delete_character"),
		ButtonKey("u1", "Jaina", "set_available"),
		ButtonKey("u2", "Arthas", "set_available"),
	} {
		ok, _, _ := tr.CheckAndMark(ctx, key)
		assert.True(t, ok, key)
	}
	assert.Equal(t, 4, tr.Len())
}

func TestKeys_CharacterIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, RefreshKey("u1", "arthas"), RefreshKey("u1", "ARTHAS"))
	assert.Equal(t, ButtonKey("u1", "Arthas", "x"), ButtonKey("u1", "arthas", "x"))
	assert.NotEqual(t, ButtonKey("u1", "Arthas", "x"), ButtonKey("u1", "Arthas", "y"))
}

func TestTracker_Sweep(t *testing.T) {
	clock := newClock()
	tr := NewTracker("refresh", 300*time.Second).WithClock(clock.Now)
	ctx := context.Background()

	_, _, _ = tr.CheckAndMark(ctx, "old")
	clock.Advance(200 * time.Second)
	_, _, _ = tr.CheckAndMark(ctx, "recent")
	clock.Advance(150 * time.Second)

	removed := tr.Sweep(clock.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Len())

	ok, _, _ := tr.CheckAndMark(ctx, "recent")
	assert.False(t, ok, "entries inside their window survive the sweep")
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker("button", time.Hour)
	ctx := context.Background()
	_, _, _ = tr.CheckAndMark(ctx, "k")
	tr.Reset("k")
	ok, _, _ := tr.CheckAndMark(ctx, "k")
	assert.True(t, ok)
}

func TestTracker_ConcurrentCheckAndMark(t *testing.T) {
	tr := NewTracker("button", time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := tr.CheckAndMark(ctx, "same"); ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted, "exactly one concurrent attempt wins the window")
}

func TestRedisTracker_CheckAndMark(t *testing.T) {
	addr := os.Getenv("ROSTERBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROSTERBOT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	tr := NewRedisTracker(client, "rosterbot-test-"+time.Now().Format("150405.000"), "button", 2*time.Second)

	ok, _, err := tr.CheckAndMark(ctx, "u1:arthas:set_available")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retry, err := tr.CheckAndMark(ctx, "u1:arthas:set_available")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, retry > 0 && retry <= 2*time.Second)
	assert.Zero(t, tr.Sweep(time.Now()))
}
