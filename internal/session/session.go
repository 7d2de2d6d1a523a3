package session

import (
	"sync"
	"time"
)

// Kind distinguishes the interactive surfaces that hold a session.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindProfile      Kind = "profile"
)

// Status is the lifecycle position of a session.
type Status int

const (
	StatusActive Status = iota
	StatusClosed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is one open interactive surface owned by a single user.
type Session struct {
	Token     string
	Kind      Kind
	OwnerID   string
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	interactions int
	status       Status
}

func newSession(token string, kind Kind, ownerID string, now time.Time) *Session {
	return &Session{
		Token:        token,
		Kind:         kind,
		OwnerID:      ownerID,
		CreatedAt:    now,
		lastActivity: now,
		status:       StatusActive,
	}
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsActive reports whether the session still accepts interactions.
func (s *Session) IsActive() bool {
	return s.Status() == StatusActive
}

// Interactions returns how many guarded interactions were counted.
func (s *Session) Interactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions
}

// LastActivity returns the time of the last accepted interaction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) countInteraction() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions++
	return s.interactions
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// finish moves an active session to status. It reports false when the
// session had already finished.
func (s *Session) finish(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return false
	}
	s.status = status
	return true
}
