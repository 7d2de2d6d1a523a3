// Package registration drives a character registration from the opening
// form to a committed roster entry.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rosterbot/internal/attempts"
	"rosterbot/internal/session"
	"rosterbot/pkg/interfaces"
	"rosterbot/pkg/types"
)

// ErrStaleResult is returned when a lookup or commit finishes after its
// session already ended. The result is dropped and nothing is sent back.
var ErrStaleResult = errors.New("registration: result arrived after the session ended")

// Config bounds a registration flow.
type Config struct {
	MaxCharacters  int
	ProfilePrefix  string
	LookupTimeout  time.Duration
	RetainTerminal time.Duration
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxCharacters:  4,
		ProfilePrefix:  "https://raider.io/characters/",
		LookupTimeout:  10 * time.Second,
		RetainTerminal: 5 * time.Minute,
	}
}

// Observer receives flow outcomes. It may be nil.
type Observer interface {
	ObserveRegistration(state string)
	ObserveLookup(seconds float64)
}

// Form is a raw form submission.
type Form struct {
	Nickname   string
	Role       string
	ProfileURL string
}

// Draft holds everything validated so far, ready to commit.
type Draft struct {
	Nickname string
	Role     types.Role
	Link     types.ProfileLink
	Profile  types.RankingProfile
	Armor    types.ArmorType
}

// Flow is one user's registration, bound to its session.
type Flow struct {
	mu         sync.Mutex
	session    *session.Session
	userID     string
	state      State
	draft      *Draft
	committing bool
	finishedAt time.Time
}

// Session returns the session the flow is bound to.
func (f *Flow) Session() *session.Session { return f.session }

// Token returns the flow's session token.
func (f *Flow) Token() string { return f.session.Token }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Draft returns a copy of the validated draft, or nil before validation.
func (f *Flow) Draft() *Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft == nil {
		return nil
	}
	d := *f.draft
	return &d
}

func (f *Flow) finishLocked(state State, now time.Time) {
	f.state = state
	f.finishedAt = now
}

// Machine owns every registration flow.
type Machine struct {
	mu       sync.Mutex
	flows    map[string]*Flow
	config   Config
	registry *session.Registry
	failures *attempts.Tracker
	ranking  interfaces.RankingClient
	store    interfaces.CharacterStore
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewMachine creates a machine and subscribes it to session expiry.
func NewMachine(
	config Config,
	registry *session.Registry,
	failures *attempts.Tracker,
	ranking interfaces.RankingClient,
	store interfaces.CharacterStore,
	logger *slog.Logger,
) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		flows:    make(map[string]*Flow),
		config:   config,
		registry: registry,
		failures: failures,
		ranking:  ranking,
		store:    store,
		logger:   logger.With("component", "registration"),
		now:      registry.Now,
	}
	registry.OnExpire(m.onSessionExpired)
	return m
}

// WithObserver attaches a metrics observer.
func (m *Machine) WithObserver(o Observer) *Machine {
	m.observer = o
	return m
}

// Start opens a registration session for userID and offers the form.
func (m *Machine) Start(userID string) (*Flow, error) {
	s, err := m.registry.TryOpenRegistration(userID)
	if err != nil {
		return nil, err
	}

	flow := &Flow{session: s, userID: userID, state: StateFormOffered}
	m.mu.Lock()
	m.flows[s.Token] = flow
	m.mu.Unlock()

	m.logger.Info("registration started", "user_id", userID, "token", s.Token)
	return flow, nil
}

// Flow returns the flow bound to token, including recently finished ones.
func (m *Machine) Flow(token string) (*Flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[token]
	return f, ok
}

// Submit validates a form and looks the character up. On success the flow
// moves to ConfirmationOffered; on any validation failure it returns to
// FormOffered and the failure is recorded against the user.
func (m *Machine) Submit(ctx context.Context, token string, form Form) (*Draft, error) {
	flow, ok := m.Flow(token)
	if !ok {
		return nil, session.ErrSessionNotFound
	}

	flow.mu.Lock()
	if flow.state != StateFormOffered {
		err := stateError(flow.state)
		flow.mu.Unlock()
		return nil, err
	}
	if exceeded, retry := m.failures.Exceeded(flow.userID); exceeded {
		flow.mu.Unlock()
		return nil, types.RetryError(types.KindRateLimited, retry)
	}

	draft, err := m.validateForm(form)
	if err != nil {
		flow.mu.Unlock()
		m.recordFailure(flow.userID, err)
		return nil, err
	}
	flow.state = StateValidationInFlight
	flow.mu.Unlock()

	profile, lookupErr := m.lookup(ctx, draft.Link)

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.state != StateValidationInFlight {
		m.logger.Info("discarding late lookup result", "token", token, "state", flow.state)
		return nil, ErrStaleResult
	}
	if lookupErr != nil {
		flow.state = StateFormOffered
		m.recordFailure(flow.userID, lookupErr)
		return nil, lookupErr
	}
	if !strings.EqualFold(profile.Name, draft.Nickname) {
		flow.state = StateFormOffered
		err := types.MismatchError(draft.Nickname, profile.Name)
		m.recordFailure(flow.userID, err)
		return nil, err
	}

	draft.Profile = *profile
	draft.Armor = types.ArmorForClass(profile.Class)
	flow.draft = draft
	flow.state = StateConfirmationOffered

	out := *draft
	return &out, nil
}

// Confirm commits the draft. A second confirmation, concurrent or after
// success, fails with KindAlreadyProcessed. A failed commit leaves the flow
// in ConfirmationOffered so the user can retry.
func (m *Machine) Confirm(ctx context.Context, token, userName string) (*types.Character, error) {
	flow, ok := m.Flow(token)
	if !ok {
		return nil, session.ErrSessionNotFound
	}

	flow.mu.Lock()
	if flow.committing || flow.state == StateCommitted {
		flow.mu.Unlock()
		return nil, types.NewError(types.KindAlreadyProcessed, "registration already confirmed")
	}
	if flow.state != StateConfirmationOffered {
		err := stateError(flow.state)
		flow.mu.Unlock()
		return nil, err
	}
	flow.committing = true
	draft := *flow.draft
	flow.mu.Unlock()

	character, err := m.commit(ctx, flow, userName, draft)

	flow.mu.Lock()
	defer flow.mu.Unlock()
	flow.committing = false
	if err != nil {
		if !errors.Is(err, ErrStaleResult) {
			m.logger.Warn("registration commit failed", "user_id", flow.userID, "character", draft.Profile.Name, "error", err)
		}
		return nil, err
	}
	if flow.state != StateConfirmationOffered {
		// The session ended while the write was in flight; its terminal state stands.
		m.logger.Info("commit finished after session ended", "user_id", flow.userID, "character", character.Name, "state", flow.state.String())
		return nil, ErrStaleResult
	}

	flow.finishLocked(StateCommitted, m.now())
	m.registry.MarkComplete(flow.userID)
	m.observe(StateCommitted)
	m.logger.Info("registration committed", "user_id", flow.userID, "character", character.Name, "score", character.Score)
	return character, nil
}

// Cancel ends a non-terminal flow and releases its session.
func (m *Machine) Cancel(token string) error {
	flow, ok := m.Flow(token)
	if !ok {
		return session.ErrSessionNotFound
	}

	flow.mu.Lock()
	if flow.committing {
		flow.mu.Unlock()
		return types.NewError(types.KindAlreadyProcessed, "registration is being confirmed")
	}
	if flow.state.IsTerminal() {
		err := stateError(flow.state)
		flow.mu.Unlock()
		return err
	}
	flow.finishLocked(StateCancelled, m.now())
	flow.mu.Unlock()

	m.registry.Close(token)
	m.observe(StateCancelled)
	return nil
}

// Expire ends the flow as if its session timed out on the platform side.
func (m *Machine) Expire(token string) bool {
	return m.registry.Expire(token)
}

// Sweep forgets terminal flows older than the retention window and returns
// how many went.
func (m *Machine) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, flow := range m.flows {
		flow.mu.Lock()
		stale := flow.state.IsTerminal() && now.Sub(flow.finishedAt) >= m.config.RetainTerminal
		flow.mu.Unlock()
		if stale {
			delete(m.flows, token)
			removed++
		}
	}
	return removed
}

// Name identifies the machine in logs and metrics.
func (m *Machine) Name() string { return "registration_flows" }

// Len returns the number of tracked flows.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

func (m *Machine) onSessionExpired(s *session.Session) {
	if s.Kind != session.KindRegistration {
		return
	}
	flow, ok := m.Flow(s.Token)
	if !ok {
		return
	}

	flow.mu.Lock()
	if flow.state.IsTerminal() {
		flow.mu.Unlock()
		return
	}
	flow.finishLocked(StateExpired, m.now())
	flow.mu.Unlock()

	m.observe(StateExpired)
	m.logger.Info("registration expired", "user_id", s.OwnerID, "token", s.Token)
}

func (m *Machine) validateForm(form Form) (*Draft, error) {
	nickname, err := types.SanitizeInput(form.Nickname, types.MaxNicknameLen)
	if err != nil {
		return nil, err
	}
	roleToken, err := types.SanitizeInput(form.Role, types.MaxRoleLen)
	if err != nil {
		return nil, err
	}
	role, err := types.NormalizeRole(roleToken)
	if err != nil {
		return nil, err
	}
	rawLink, err := types.SanitizeInput(form.ProfileURL, types.MaxLinkLen)
	if err != nil {
		return nil, err
	}
	if prefix := m.config.ProfilePrefix; prefix != "" && !strings.HasPrefix(strings.ToLower(rawLink), strings.ToLower(prefix)) {
		return nil, types.NewError(types.KindMalformedLink, "link must start with %s", prefix)
	}
	link, err := types.ParseProfileLink(rawLink)
	if err != nil {
		return nil, err
	}

	return &Draft{Nickname: nickname, Role: role, Link: link}, nil
}

func (m *Machine) lookup(ctx context.Context, link types.ProfileLink) (*types.RankingProfile, error) {
	if m.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.LookupTimeout)
		defer cancel()
	}

	start := time.Now()
	profile, err := m.ranking.Lookup(ctx, link)
	if m.observer != nil {
		m.observer.ObserveLookup(time.Since(start).Seconds())
	}
	if err != nil {
		if types.KindOf(err) == "" {
			err = types.WrapError(types.KindExternalLookupFailed, err, "lookup")
		}
		return nil, err
	}
	return profile, nil
}

func (m *Machine) commit(ctx context.Context, flow *Flow, userName string, draft Draft) (*types.Character, error) {
	name := draft.Profile.Name
	owned := false

	existing, err := m.store.FindCharacterByName(ctx, name)
	switch {
	case err == nil && existing.UserID != flow.userID:
		return nil, types.NewError(types.KindDuplicateCharacter, "%s is registered by another user", name)
	case err == nil:
		owned = true
	case !errors.Is(err, interfaces.ErrCharacterNotFound):
		return nil, types.WrapError(types.KindPersistenceFailure, err, "check name")
	}

	if !owned {
		count, err := m.store.CountCharacters(ctx, flow.userID)
		if err != nil {
			return nil, types.WrapError(types.KindPersistenceFailure, err, "count characters")
		}
		if count >= m.config.MaxCharacters {
			return nil, types.NewError(types.KindCharacterLimit, "limit of %d characters reached", m.config.MaxCharacters)
		}
	}

	flow.mu.Lock()
	live := flow.state == StateConfirmationOffered
	flow.mu.Unlock()
	if !live {
		return nil, ErrStaleResult
	}

	realm := draft.Profile.Realm
	if realm == "" {
		realm = draft.Link.Realm
	}
	character := &types.Character{
		UserID:     flow.userID,
		UserName:   userName,
		Name:       name,
		Realm:      realm,
		Class:      draft.Profile.Class,
		Role:       draft.Role,
		Armor:      draft.Armor,
		ProfileURL: draft.Link.URL,
		Score:      draft.Profile.Score,
		Available:  true,
		UpdatedAt:  m.now().UTC(),
	}

	if _, err := m.store.UpsertCharacter(ctx, character); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateCharacter) {
			return nil, types.WrapError(types.KindDuplicateCharacter, err, name)
		}
		return nil, types.WrapError(types.KindPersistenceFailure, err, "save character")
	}
	return character, nil
}

func (m *Machine) recordFailure(userID string, err error) {
	kind := types.KindOf(err)
	if m.failures.RecordFailure(userID, string(kind)) {
		m.logger.Warn("user reached failed attempt threshold", "user_id", userID, "last_kind", kind)
	}
}

func (m *Machine) observe(state State) {
	if m.observer != nil {
		m.observer.ObserveRegistration(state.String())
	}
}

func stateError(state State) error {
	switch state {
	case StateCommitted:
		return types.NewError(types.KindAlreadyProcessed, "registration already confirmed")
	case StateCancelled, StateExpired:
		return session.ErrSessionExpired
	case StateValidationInFlight:
		return types.NewError(types.KindInvalidState, "validation already in progress")
	default:
		return types.NewError(types.KindInvalidState, "action not allowed while %s", state)
	}
}
