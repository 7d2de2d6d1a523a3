package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/pkg/types"
)

// recordingRouter records the order events reach it, per user, and can
// block until released.
type recordingRouter struct {
	mu       sync.Mutex
	seen     map[string][]string
	inflight map[string]int
	overlap  atomic.Bool
	gate     chan struct{}
	panicOn  string
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{seen: map[string][]string{}, inflight: map[string]int{}}
}

func (r *recordingRouter) Route(ctx context.Context, ev *types.Event) *types.Response {
	if ev.ID == r.panicOn {
		panic("boom")
	}
	r.mu.Lock()
	r.inflight[ev.ActorID]++
	if r.inflight[ev.ActorID] > 1 {
		r.overlap.Store(true)
	}
	r.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.inflight[ev.ActorID]--
	r.seen[ev.ActorID] = append(r.seen[ev.ActorID], ev.ID)
	r.mu.Unlock()
	return &types.Response{Content: "ok " + ev.ID}
}

func startHub(t *testing.T, cfg Config, router *recordingRouter) *Hub {
	t.Helper()
	h := NewHub(cfg, router, nil)
	require.NoError(t, h.Start(context.Background()))
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(DefaultConfig(), newRecordingRouter(), nil)

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	assert.ErrorIs(t, h.Submit(&EventContext{Event: &types.Event{ActorID: "u1"}}), ErrHubNotRunning)
}

func TestHub_SubmitRejectsNil(t *testing.T) {
	h := startHub(t, DefaultConfig(), newRecordingRouter())
	defer func() { _ = h.Stop() }()

	assert.ErrorIs(t, h.Submit(nil), ErrNilEvent)
	assert.ErrorIs(t, h.Submit(&EventContext{}), ErrNilEvent)
}

func TestHub_PerUserOrderingAndIsolation(t *testing.T) {
	router := newRecordingRouter()
	h := startHub(t, DefaultConfig(), router)

	var replies sync.WaitGroup
	users := []string{"u1", "u2", "u3"}
	const perUser = 10
	for i := 0; i < perUser; i++ {
		for _, u := range users {
			replies.Add(1)
			err := h.Submit(&EventContext{
				Event: &types.Event{ID: fmt.Sprintf("%s-%02d", u, i), ActorID: u},
				Reply: func(*types.Response) { replies.Done() },
			})
			require.NoError(t, err)
		}
	}
	replies.Wait()
	require.NoError(t, h.Stop())

	assert.False(t, router.overlap.Load(), "events of one user ran concurrently")
	for _, u := range users {
		got := router.seen[u]
		require.Len(t, got, perUser)
		for i, id := range got {
			assert.Equal(t, fmt.Sprintf("%s-%02d", u, i), id)
		}
	}
	assert.Equal(t, int64(30), h.Handled())
}

func TestHub_FullLaneGetsBusyReply(t *testing.T) {
	router := newRecordingRouter()
	router.gate = make(chan struct{})
	cfg := DefaultConfig()
	cfg.LaneSize = 1
	h := startHub(t, cfg, router)

	var mu sync.Mutex
	var busy int
	reply := func(resp *types.Response) {
		if resp.Content == msgBusy {
			mu.Lock()
			busy++
			mu.Unlock()
		}
	}

	// First event blocks in the router, second fills the lane, third overflows.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Submit(&EventContext{Event: &types.Event{ID: fmt.Sprint(i), ActorID: "u1"}, Reply: reply}))
		time.Sleep(20 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return busy == 1
	}, time.Second, 10*time.Millisecond)

	close(router.gate)
	require.NoError(t, h.Stop())
}

func TestHub_RouterPanicDoesNotKillLane(t *testing.T) {
	router := newRecordingRouter()
	router.panicOn = "bad"
	h := startHub(t, DefaultConfig(), router)

	done := make(chan *types.Response, 1)
	require.NoError(t, h.Submit(&EventContext{Event: &types.Event{ID: "bad", ActorID: "u1"}}))
	require.NoError(t, h.Submit(&EventContext{
		Event: &types.Event{ID: "good", ActorID: "u1"},
		Reply: func(resp *types.Response) { done <- resp },
	}))

	select {
	case resp := <-done:
		assert.Equal(t, "ok good", resp.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("lane stopped after panic")
	}
	require.NoError(t, h.Stop())
}

func TestHub_IdleLanesAreReaped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LaneIdle = 10 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	h := startHub(t, cfg, newRecordingRouter())
	defer func() { _ = h.Stop() }()

	replied := make(chan struct{})
	require.NoError(t, h.Submit(&EventContext{
		Event: &types.Event{ID: "1", ActorID: "u1"},
		Reply: func(*types.Response) { close(replied) },
	}))
	<-replied

	assert.Eventually(t, func() bool { return h.ActiveLanes() == 0 }, time.Second, 10*time.Millisecond)
}
