// Package router maps gateway events to handlers and turns every outcome,
// including failures, into a response for the acting user.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rosterbot/internal/registration"
	"rosterbot/internal/session"
	"rosterbot/pkg/interfaces"
	"rosterbot/pkg/types"
)

// Config holds the router's own limits.
type Config struct {
	AdminIDs         []string
	ProfileListCap   int
	LabelLimit       int
	LookupTimeout    time.Duration
	WelcomeChannelID string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ProfileListCap: 10,
		LabelLimit:     20,
		LookupTimeout:  10 * time.Second,
	}
}

// Observer receives per-event outcomes. It may be nil.
type Observer interface {
	ObserveEvent(kind, outcome string)
	ObserveDenial(reason string)
}

// Dependencies are the collaborators the handlers call.
type Dependencies struct {
	Sessions        *session.Registry
	Guard           *session.Guard
	Registrations   *registration.Machine
	Store           interfaces.CharacterStore
	Ranking         interfaces.RankingClient
	ButtonCooldown  interfaces.CooldownStore
	RefreshCooldown interfaces.CooldownStore
	Observer        Observer
}

type handlerFunc func(ctx context.Context, ev *types.Event) (*types.Response, error)

// Router dispatches events. It is the outermost error boundary: no handler
// failure escapes Route, and internal detail is only ever logged.
type Router struct {
	config   Config
	deps     Dependencies
	admins   map[string]struct{}
	handlers map[string]handlerFunc
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a router.
func New(config Config, deps Dependencies, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		config: config,
		deps:   deps,
		admins: make(map[string]struct{}, len(config.AdminIDs)),
		logger: logger.With("component", "router"),
		now:    time.Now,
	}
	if deps.Sessions != nil {
		r.now = deps.Sessions.Now
	}
	for _, id := range config.AdminIDs {
		r.admins[id] = struct{}{}
	}

	r.handlers = map[string]handlerFunc{
		types.EventRegister:        r.handleRegister,
		types.EventStartForm:       r.handleStartForm,
		types.EventSubmitForm:      r.handleSubmitForm,
		types.EventConfirm:         r.handleConfirm,
		types.EventCancel:          r.handleCancel,
		types.EventPlatformTimeout: r.handlePlatformTimeout,
		types.EventProfile:         r.handleProfile,
		types.EventSelectCharacter: r.handleSelectCharacter,
		types.EventSetAvailable:    r.handleSetAvailability,
		types.EventSetUnavailable:  r.handleSetAvailability,
		types.EventBulkAvailable:   r.handleBulkAvailability,
		types.EventBulkUnavailable: r.handleBulkAvailability,
		types.EventDeleteCharacter: r.handleDeleteCharacter,
		types.EventRefreshScore:    r.handleRefreshScore,
		types.EventAvailable:       r.handleAvailable,
		types.EventGroups:          r.handleGroups,
	}
	return r
}

// IsAdmin reports whether userID may run admin commands.
func (r *Router) IsAdmin(userID string) bool {
	_, ok := r.admins[userID]
	return ok
}

// Route handles one event and returns the response to send back. A nil
// response means nothing should be sent, which happens when a result
// arrives for a session that already ended. A handler may return a partial
// response alongside an error; its content and controls are appended to the
// rendered error.
func (r *Router) Route(ctx context.Context, ev *types.Event) (resp *types.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", "event", ev.Kind, "user_id", ev.ActorID, "panic", rec)
			resp = r.critical(ev)
			r.observe(ev.Kind, "error")
		}
	}()

	if err := ev.Validate(); err != nil {
		r.logger.Warn("rejected malformed event", "event", ev.Kind, "user_id", ev.ActorID, "err", err)
		r.observe(ev.Kind, "invalid")
		return r.reject(ev, err)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}
	if isAdminEvent(ev.Kind) && !r.IsAdmin(ev.ActorID) {
		return r.reject(ev, ErrForbidden)
	}

	handler, ok := r.handlers[ev.Kind]
	if !ok {
		return r.reject(ev, ErrUnhandledEvent)
	}

	resp, err := handler(ctx, ev)
	switch {
	case errors.Is(err, registration.ErrStaleResult):
		r.logger.Info("dropped result for ended session", "event", ev.Kind, "user_id", ev.ActorID, "session", ev.SessionToken)
		r.observe(ev.Kind, "dropped")
		return nil
	case err != nil:
		out := r.reject(ev, err)
		if resp != nil {
			out.Content += resp.Content
			out.Components = resp.Components
			out.Edit = resp.Edit
		}
		return out
	}

	resp.EventID = ev.ID
	r.observe(ev.Kind, "ok")
	return resp
}

// Welcome returns the standing instructions posted when a relay connects.
func (r *Router) Welcome() *types.Response {
	return &types.Response{
		EventID:   "welcome",
		ChannelID: r.config.WelcomeChannelID,
		Card: &types.Card{
			Title:       welcomeTitle,
			Description: welcomeText,
			Color:       colorInfo,
		},
	}
}

// reject turns err into a user-facing response. Errors without a kind and
// persistence failures are logged with their detail and reported generically.
func (r *Router) reject(ev *types.Event, err error) *types.Response {
	kind := types.KindOf(err)
	if kind == "" || kind == types.KindPersistenceFailure {
		r.logger.Error("event failed", "event", ev.Kind, "user_id", ev.ActorID, "session", ev.SessionToken, "err", err)
		r.observe(ev.Kind, "error")
		return r.critical(ev)
	}

	r.logger.Info("event denied", "event", ev.Kind, "user_id", ev.ActorID, "session", ev.SessionToken, "reason", kind, "err", err)
	r.observe(ev.Kind, "denied")
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveDenial(string(kind))
	}

	resp := &types.Response{
		EventID:      ev.ID,
		Content:      renderError(err),
		SessionToken: ev.SessionToken,
		Ephemeral:    true,
	}
	if kind == types.KindSessionExpired || kind == types.KindInteractionLimit {
		resp.CloseSession = true
	}
	return resp
}

func (r *Router) critical(ev *types.Event) *types.Response {
	return &types.Response{
		EventID:   ev.ID,
		Content:   msgCritical,
		Ephemeral: true,
	}
}

func (r *Router) observe(kind, outcome string) {
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveEvent(kind, outcome)
	}
}

// profileSession resolves and guards the profile session an event belongs to.
func (r *Router) profileSession(ev *types.Event) (*session.Session, error) {
	s, ok := r.deps.Sessions.Get(ev.SessionToken)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if s.Kind != session.KindProfile {
		return nil, ErrWrongSession
	}
	if err := r.deps.Guard.Check(s, ev.ActorID); err != nil {
		return nil, err
	}
	return s, nil
}

// registrationFlow resolves and guards the registration flow an event
// belongs to.
func (r *Router) registrationFlow(ev *types.Event) (*registration.Flow, error) {
	flow, ok := r.deps.Registrations.Flow(ev.SessionToken)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if err := r.deps.Guard.Check(flow.Session(), ev.ActorID); err != nil {
		return nil, err
	}
	return flow, nil
}

func (r *Router) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.LookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.LookupTimeout)
}

func storeError(err error, op string) error {
	return types.WrapError(types.KindPersistenceFailure, err, fmt.Sprintf("store %s", op))
}

func isAdminEvent(kind string) bool {
	return kind == types.EventAvailable || kind == types.EventGroups
}
