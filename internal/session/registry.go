package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config bounds how many sessions may be open and how long each may live.
type Config struct {
	MaxOpen          int
	InteractionLimit int
	MaxAge           time.Duration
	IdleTimeout      time.Duration
	CompletedTTL     time.Duration
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxOpen:          50,
		InteractionLimit: 20,
		MaxAge:           600 * time.Second,
		IdleTimeout:      300 * time.Second,
		CompletedTTL:     60 * time.Second,
	}
}

// Registry tracks every open session, enforces one open registration per
// user and a global ceiling on open sessions of any kind.
type Registry struct {
	mu            sync.Mutex
	config        Config
	sessions      map[string]*Session  // token -> session
	registrations map[string]string    // userID -> open registration token
	completed     map[string]time.Time // userID -> completion time
	open          int
	hooks         []func(*Session)
	logger        *slog.Logger
	now           func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:        config,
		sessions:      make(map[string]*Session),
		registrations: make(map[string]string),
		completed:     make(map[string]time.Time),
		logger:        logger.With("component", "session_registry"),
		now:           time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Config returns the registry limits.
func (r *Registry) Config() Config { return r.config }

// Now returns the registry's current time.
func (r *Registry) Now() time.Time { return r.now() }

// OnExpire registers fn to run, outside the registry lock, whenever a
// session expires by age, idleness, interaction limit or platform timeout.
func (r *Registry) OnExpire(fn func(*Session)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// TryOpenRegistration opens a registration session for userID. A fresh
// completion marker is consumed and reported once as ErrJustCompleted.
func (r *Registry) TryOpenRegistration(userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if at, ok := r.completed[userID]; ok {
		delete(r.completed, userID)
		if now.Sub(at) < r.config.CompletedTTL {
			return nil, ErrJustCompleted
		}
	}
	if token, ok := r.registrations[userID]; ok {
		if s, live := r.sessions[token]; live && s.IsActive() {
			return nil, ErrAlreadyOpen
		}
		delete(r.registrations, userID)
	}
	if r.open >= r.config.MaxOpen {
		return nil, ErrCapacityExceeded
	}

	s := r.openLocked(KindRegistration, userID, now)
	r.registrations[userID] = s.Token
	return s, nil
}

// Open opens a non-registration session. Only the global ceiling applies.
func (r *Registry) Open(kind Kind, userID string) (*Session, error) {
	if kind == KindRegistration {
		return r.TryOpenRegistration(userID)
	}
	if kind != KindProfile {
		return nil, ErrInvalidSessionKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open >= r.config.MaxOpen {
		return nil, ErrCapacityExceeded
	}
	return r.openLocked(kind, userID, r.now()), nil
}

func (r *Registry) openLocked(kind Kind, userID string, now time.Time) *Session {
	s := newSession(uuid.New().String(), kind, userID, now)
	r.sessions[s.Token] = s
	r.open++
	r.logger.Debug("session opened", "token", s.Token, "kind", kind, "user_id", userID, "open", r.open)
	return s
}

// Get returns the open session for token.
func (r *Registry) Get(token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	return s, ok
}

// ActiveRegistration returns userID's open registration session, if any.
func (r *Registry) ActiveRegistration(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.registrations[userID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[token]
	return s, ok
}

// Close releases token's slot. Closing an unknown or already released token
// is a no-op and reports false.
func (r *Registry) Close(token string) bool {
	r.mu.Lock()
	s, ok := r.releaseLocked(token)
	r.mu.Unlock()
	if ok {
		s.finish(StatusClosed)
	}
	return ok
}

// Expire releases token's slot as expired and runs the expiry hooks.
func (r *Registry) Expire(token string) bool {
	r.mu.Lock()
	s, ok := r.releaseLocked(token)
	hooks := r.hooks
	r.mu.Unlock()
	if !ok {
		return false
	}
	if s.finish(StatusExpired) {
		r.runHooks(hooks, s)
	}
	return true
}

// MarkComplete closes userID's open registration and leaves a completion
// marker that the next TryOpenRegistration reports once.
func (r *Registry) MarkComplete(userID string) {
	r.mu.Lock()
	var finished *Session
	if token, ok := r.registrations[userID]; ok {
		finished, _ = r.releaseLocked(token)
	}
	r.completed[userID] = r.now()
	r.mu.Unlock()

	if finished != nil {
		finished.finish(StatusClosed)
	}
}

// OpenCount returns the number of sessions holding a slot.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Sweep expires sessions past their maximum age or idle timeout and drops
// stale completion markers. It returns the number of sessions expired.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Session
	for token, s := range r.sessions {
		age := now.Sub(s.CreatedAt)
		idle := now.Sub(s.LastActivity())
		if age > r.config.MaxAge || (r.config.IdleTimeout > 0 && idle > r.config.IdleTimeout) {
			if released, ok := r.releaseLocked(token); ok {
				expired = append(expired, released)
			}
		}
	}
	for userID, at := range r.completed {
		if now.Sub(at) >= r.config.CompletedTTL {
			delete(r.completed, userID)
		}
	}
	hooks := r.hooks
	r.mu.Unlock()

	for _, s := range expired {
		if s.finish(StatusExpired) {
			r.runHooks(hooks, s)
		}
	}
	return len(expired)
}

// Name identifies the registry in logs and metrics.
func (r *Registry) Name() string { return "sessions" }

// releaseLocked removes token and decrements the counter, never below zero.
func (r *Registry) releaseLocked(token string) (*Session, bool) {
	s, ok := r.sessions[token]
	if !ok {
		return nil, false
	}
	delete(r.sessions, token)
	if s.Kind == KindRegistration && r.registrations[s.OwnerID] == token {
		delete(r.registrations, s.OwnerID)
	}
	r.decrementLocked()
	return s, true
}

func (r *Registry) decrementLocked() {
	if r.open > 0 {
		r.open--
	}
}

func (r *Registry) runHooks(hooks []func(*Session), s *Session) {
	for _, fn := range hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("session expiry hook panicked", "token", s.Token, "panic", rec)
				}
			}()
			fn(s)
		}()
	}
}
