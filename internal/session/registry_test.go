package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/pkg/types"
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

func newTestRegistry(mutate func(*Config)) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRegistry(cfg, nil).WithClock(clock.Now), clock
}

func TestRegistry_OneRegistrationPerUser(t *testing.T) {
	r, _ := newTestRegistry(nil)

	s, err := r.TryOpenRegistration("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.OwnerID)
	assert.Equal(t, KindRegistration, s.Kind)

	_, err = r.TryOpenRegistration("u1")
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.True(t, errors.Is(err, types.ErrAlreadyOpen))

	_, err = r.TryOpenRegistration("u2")
	assert.NoError(t, err)
	assert.Equal(t, 2, r.OpenCount())
}

func TestRegistry_CapacityCeiling(t *testing.T) {
	r, _ := newTestRegistry(func(c *Config) { c.MaxOpen = 50 })

	for i := 0; i < 50; i++ {
		_, err := r.TryOpenRegistration(fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}

	_, err := r.TryOpenRegistration("u50")
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = r.Open(KindProfile, "u51")
	assert.ErrorIs(t, err, ErrCapacityExceeded, "profile sessions share the ceiling")
	assert.Equal(t, 50, r.OpenCount())
}

func TestRegistry_CloseIsIdempotentAndFloored(t *testing.T) {
	r, _ := newTestRegistry(nil)
	s, err := r.TryOpenRegistration("u1")
	require.NoError(t, err)

	assert.True(t, r.Close(s.Token))
	assert.False(t, r.Close(s.Token))
	assert.False(t, r.Close("unknown"))
	assert.Equal(t, 0, r.OpenCount())
	assert.Equal(t, StatusClosed, s.Status())

	r.mu.Lock()
	r.decrementLocked()
	r.mu.Unlock()
	assert.Equal(t, 0, r.OpenCount(), "counter never goes below zero")

	_, err = r.TryOpenRegistration("u1")
	assert.NoError(t, err, "closing frees the user's registration")
}

func TestRegistry_CompletionMarker(t *testing.T) {
	r, clock := newTestRegistry(nil)
	s, err := r.TryOpenRegistration("u1")
	require.NoError(t, err)

	r.MarkComplete("u1")
	assert.Equal(t, 0, r.OpenCount())
	assert.Equal(t, StatusClosed, s.Status())

	clock.Advance(10 * time.Second)
	_, err = r.TryOpenRegistration("u1")
	assert.ErrorIs(t, err, ErrJustCompleted)

	_, err = r.TryOpenRegistration("u1")
	assert.NoError(t, err, "marker is consumed after being reported once")
}

func TestRegistry_StaleCompletionMarkerIgnored(t *testing.T) {
	r, clock := newTestRegistry(nil)
	r.MarkComplete("u1")
	clock.Advance(2 * time.Minute)

	_, err := r.TryOpenRegistration("u1")
	assert.NoError(t, err)
}

func TestRegistry_ExpireRunsHooksOnce(t *testing.T) {
	r, _ := newTestRegistry(nil)
	var expired []string
	r.OnExpire(func(s *Session) { expired = append(expired, s.Token) })
	r.OnExpire(func(*Session) { panic("hook failure is contained") })

	s, err := r.Open(KindProfile, "u1")
	require.NoError(t, err)

	assert.True(t, r.Expire(s.Token))
	assert.False(t, r.Expire(s.Token))
	assert.Equal(t, []string{s.Token}, expired)
	assert.Equal(t, StatusExpired, s.Status())
	assert.Equal(t, 0, r.OpenCount())
}

func TestRegistry_SweepExpiresByAgeAndIdleness(t *testing.T) {
	r, clock := newTestRegistry(nil)
	guard := NewGuard(r)

	old, err := r.TryOpenRegistration("old")
	require.NoError(t, err)

	clock.Advance(200 * time.Second)
	busy, err := r.Open(KindProfile, "busy")
	require.NoError(t, err)
	idle, err := r.Open(KindProfile, "idle")
	require.NoError(t, err)

	clock.Advance(250 * time.Second)
	require.NoError(t, guard.Check(busy, "busy"))

	clock.Advance(160 * time.Second)
	// old: age 610s. idle: idle 410s. busy: idle 160s, age 410s.
	var hooked int
	r.OnExpire(func(*Session) { hooked++ })

	n := r.Sweep(clock.Now())
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, hooked)
	assert.Equal(t, StatusExpired, old.Status())
	assert.Equal(t, StatusExpired, idle.Status())
	assert.True(t, busy.IsActive())
	assert.Equal(t, 1, r.OpenCount())
}

func TestRegistry_SweepDropsStaleMarkers(t *testing.T) {
	r, clock := newTestRegistry(nil)
	r.MarkComplete("u1")
	clock.Advance(time.Minute)
	r.Sweep(clock.Now())

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.completed)
}

func TestRegistry_OpenRejectsUnknownKind(t *testing.T) {
	r, _ := newTestRegistry(nil)
	_, err := r.Open(Kind("bogus"), "u1")
	assert.ErrorIs(t, err, ErrInvalidSessionKind)
}

func TestRegistry_ConcurrentOpenRespectsCeiling(t *testing.T) {
	r, _ := newTestRegistry(func(c *Config) { c.MaxOpen = 10 })

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.TryOpenRegistration(fmt.Sprintf("u%d", i)); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, opened)
	assert.Equal(t, 10, r.OpenCount())
}
