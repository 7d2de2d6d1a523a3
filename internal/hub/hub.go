// Package hub serializes event handling per user. Each user gets a lane, a
// goroutine that handles that user's events in arrival order; lanes of
// different users run concurrently.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rosterbot/pkg/interfaces"
	"rosterbot/pkg/types"
)

const msgBusy = "You are sending actions faster than they can be handled. Try again in a moment."

// Config sizes the hub's queues.
type Config struct {
	QueueSize    int
	LaneSize     int
	LaneIdle     time.Duration
	ReapInterval time.Duration
}

// DefaultConfig returns the sizes used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		QueueSize:    1000,
		LaneSize:     16,
		LaneIdle:     time.Minute,
		ReapInterval: 30 * time.Second,
	}
}

// EventContext carries one event together with the way to answer it.
type EventContext struct {
	Event      *types.Event
	Reply      func(*types.Response)
	ReceivedAt time.Time
}

type lane struct {
	queue    chan *EventContext
	pending  atomic.Int32
	lastUsed time.Time
}

// Hub owns the dispatch goroutine and the per-user lanes. The lanes map is
// only touched by the dispatch goroutine.
type Hub struct {
	config   Config
	router   interfaces.EventRouter
	logger   *slog.Logger
	events   chan *EventContext
	shutdown chan struct{}
	done     chan struct{}
	lanes    map[string]*lane
	laneWG   sync.WaitGroup
	active   atomic.Int64
	handled  atomic.Int64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub that hands events to router.
func NewHub(config Config, router interfaces.EventRouter, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config:   config,
		router:   router,
		logger:   logger.With("component", "hub"),
		events:   make(chan *EventContext, config.QueueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		lanes:    make(map[string]*lane),
	}
}

// Start begins dispatching.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	h.logger.Info("starting event hub", "queue_size", h.config.QueueSize, "lane_size", h.config.LaneSize)
	go h.run(ctx)
	return nil
}

// Stop stops dispatching and waits for every lane to drain.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	<-h.done
	return nil
}

// Submit queues an event without blocking.
func (h *Hub) Submit(ec *EventContext) error {
	if ec == nil || ec.Event == nil {
		return ErrNilEvent
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	if ec.ReceivedAt.IsZero() {
		ec.ReceivedAt = time.Now()
	}

	select {
	case h.events <- ec:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// ActiveLanes returns the number of users with a live lane.
func (h *Hub) ActiveLanes() int { return int(h.active.Load()) }

// Handled returns the number of events handled since start.
func (h *Hub) Handled() int64 { return h.handled.Load() }

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	interval := h.config.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	reap := time.NewTicker(interval)
	defer reap.Stop()

	for {
		select {
		case ec := <-h.events:
			h.dispatch(ctx, ec)

		case now := <-reap.C:
			h.reapIdle(now)

		case <-h.shutdown:
			h.logger.Info("hub shutdown requested")
			h.closeLanes()
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			h.closeLanes()
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ec *EventContext) {
	userID := ec.Event.ActorID
	l, ok := h.lanes[userID]
	if !ok {
		l = &lane{queue: make(chan *EventContext, h.config.LaneSize)}
		h.lanes[userID] = l
		h.active.Add(1)
		h.laneWG.Add(1)
		go h.work(ctx, userID, l)
	}
	l.lastUsed = time.Now()

	l.pending.Add(1)
	select {
	case l.queue <- ec:
	default:
		l.pending.Add(-1)
		h.logger.Warn("user lane full, rejecting event", "user_id", userID, "event", ec.Event.Kind)
		h.reply(ec, &types.Response{EventID: ec.Event.ID, Content: msgBusy, Ephemeral: true})
	}
}

// work handles one user's events in order until the lane is closed.
func (h *Hub) work(ctx context.Context, userID string, l *lane) {
	defer h.laneWG.Done()
	defer h.active.Add(-1)

	for ec := range l.queue {
		resp := h.route(ctx, ec)
		h.handled.Add(1)
		if resp != nil {
			h.reply(ec, resp)
		}
		l.pending.Add(-1)
	}
	h.logger.Debug("lane closed", "user_id", userID)
}

func (h *Hub) route(ctx context.Context, ec *EventContext) (resp *types.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("router panicked", "user_id", ec.Event.ActorID, "event", ec.Event.Kind, "panic", rec)
			resp = nil
		}
	}()
	return h.router.Route(ctx, ec.Event)
}

func (h *Hub) reply(ec *EventContext, resp *types.Response) {
	if ec.Reply == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("reply callback panicked", "user_id", ec.Event.ActorID, "panic", rec)
		}
	}()
	ec.Reply(resp)
}

func (h *Hub) reapIdle(now time.Time) {
	for userID, l := range h.lanes {
		if l.pending.Load() == 0 && now.Sub(l.lastUsed) >= h.config.LaneIdle {
			close(l.queue)
			delete(h.lanes, userID)
		}
	}
}

func (h *Hub) closeLanes() {
	for userID, l := range h.lanes {
		close(l.queue)
		delete(h.lanes, userID)
	}
	h.laneWG.Wait()
}
