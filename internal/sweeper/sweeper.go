// Package sweeper periodically evicts expired entries from the in-memory
// trackers and session registry.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Target is anything holding time-bounded state.
type Target interface {
	Name() string
	Sweep(now time.Time) int
}

// Observer receives the outcome of each run. It may be nil.
type Observer interface {
	ObserveSweep(target string, removed int)
	ObserveSweepFailure()
}

// Sweeper runs every target's Sweep on a fixed interval. A failing run is
// logged and the loop continues with the next tick.
type Sweeper struct {
	interval time.Duration
	targets  []Target
	reclaim  bool
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastRun  time.Time
	runs     int
	failures int
}

// New creates a sweeper over targets.
func New(interval time.Duration, reclaim bool, logger *slog.Logger, targets ...Target) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		interval: interval,
		targets:  targets,
		reclaim:  reclaim,
		logger:   logger.With("component", "sweeper"),
		now:      time.Now,
	}
}

// WithObserver attaches a metrics observer.
func (s *Sweeper) WithObserver(o Observer) *Sweeper {
	s.observer = o
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start launches the background loop. Calling Start twice is an error.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sweeper already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps every target once and returns the per-target eviction
// counts. A panicking target is reported as an error and the remaining
// targets still run.
func (s *Sweeper) RunOnce() (map[string]int, error) {
	now := s.now()
	report := make(map[string]int, len(s.targets))
	var firstErr error

	for _, target := range s.targets {
		removed, err := s.sweepTarget(target, now)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report[target.Name()] = removed
		if s.observer != nil {
			s.observer.ObserveSweep(target.Name(), removed)
		}
	}

	if s.reclaim {
		debug.FreeOSMemory()
	}

	s.mu.Lock()
	s.lastRun = now
	s.runs++
	if firstErr != nil {
		s.failures++
	}
	s.mu.Unlock()

	if firstErr != nil && s.observer != nil {
		s.observer.ObserveSweepFailure()
	}
	s.logger.Debug("sweep complete", "removed", report)
	return report, firstErr
}

func (s *Sweeper) sweepTarget(target Target, now time.Time) (removed int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sweep %s panicked: %v", target.Name(), rec)
		}
	}()
	return target.Sweep(now), nil
}

// Stats reports how many runs happened, how many failed and when the last
// one started.
func (s *Sweeper) Stats() (runs, failures int, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.failures, s.lastRun
}
