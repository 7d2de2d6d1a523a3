package session

// Guard authorizes interactions on an open session. Checks run in a fixed
// order: owner, interaction count, age.
type Guard struct {
	registry *Registry
}

// NewGuard creates a guard that expires sessions through registry.
func NewGuard(registry *Registry) *Guard {
	return &Guard{registry: registry}
}

// Check authorizes actorID to interact with s. A non-owner is denied without
// changing the session. Exceeding the interaction limit or the maximum age
// expires the session and releases its slot.
func (g *Guard) Check(s *Session, actorID string) error {
	if s.OwnerID != actorID {
		return ErrNotOwner
	}

	cfg := g.registry.Config()
	if count := s.countInteraction(); count > cfg.InteractionLimit {
		g.registry.Expire(s.Token)
		return ErrInteractionLimit
	}

	now := g.registry.Now()
	if now.Sub(s.CreatedAt) > cfg.MaxAge {
		g.registry.Expire(s.Token)
		return ErrSessionExpired
	}

	s.touch(now)
	return nil
}
