package router

import (
	"context"
	"errors"
	"fmt"

	"rosterbot/internal/cooldown"
	"rosterbot/internal/registration"
	"rosterbot/internal/session"
	"rosterbot/pkg/interfaces"
	"rosterbot/pkg/types"
)

func (r *Router) handleProfile(ctx context.Context, ev *types.Event) (*types.Response, error) {
	chars, err := r.deps.Store.ListCharacters(ctx, types.CharacterFilter{
		UserID: ev.ActorID,
		Limit:  r.config.ProfileListCap,
	})
	if err != nil {
		return nil, storeError(err, "list")
	}
	if len(chars) == 0 {
		return &types.Response{Content: msgNoCharacters, Ephemeral: true}, nil
	}

	s, err := r.deps.Sessions.Open(session.KindProfile, ev.ActorID)
	if err != nil {
		return nil, err
	}

	components := make([]types.Component, 0, len(chars)+2)
	for _, c := range chars {
		components = append(components, types.Component{
			Action: types.EventSelectCharacter,
			Label:  truncateLabel(c.Name, r.config.LabelLimit),
			Target: c.Name,
			Style:  "primary",
		})
	}
	components = append(components,
		types.Component{Action: types.EventBulkAvailable, Label: "All available", Style: "success"},
		types.Component{Action: types.EventBulkUnavailable, Label: "All unavailable", Style: "secondary"},
	)

	return &types.Response{
		Content:      fmt.Sprintf(msgProfileHeader, len(chars)),
		Components:   components,
		SessionToken: s.Token,
		Ephemeral:    true,
	}, nil
}

func (r *Router) handleSelectCharacter(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, err := r.profileSession(ev)
	if err != nil {
		return nil, err
	}
	if ev.Target == "" {
		return nil, ErrMissingTarget
	}

	c, err := r.getCharacter(ctx, ev.ActorID, ev.Target)
	if err != nil {
		return nil, err
	}
	return r.cardResponse(s, c), nil
}

func (r *Router) handleSetAvailability(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, err := r.profileSession(ev)
	if err != nil {
		return nil, err
	}
	if ev.Target == "" {
		return nil, ErrMissingTarget
	}
	if err := r.checkCooldown(ctx, r.deps.ButtonCooldown, cooldown.ButtonKey(ev.ActorID, ev.Target, ev.Kind)); err != nil {
		return nil, err
	}

	available := ev.Kind == types.EventSetAvailable
	if err := r.updateCharacter(ctx, ev.ActorID, ev.Target, types.CharacterUpdate{Available: &available}); err != nil {
		return nil, err
	}

	c, err := r.getCharacter(ctx, ev.ActorID, ev.Target)
	if err != nil {
		return nil, err
	}
	return r.cardResponse(s, c), nil
}

func (r *Router) handleBulkAvailability(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, err := r.profileSession(ev)
	if err != nil {
		return nil, err
	}
	if err := r.checkCooldown(ctx, r.deps.ButtonCooldown, cooldown.ButtonKey(ev.ActorID, "*", ev.Kind)); err != nil {
		return nil, err
	}

	available := ev.Kind == types.EventBulkAvailable
	n, err := r.deps.Store.UpdateUserCharacters(ctx, ev.ActorID, types.CharacterUpdate{Available: &available})
	if err != nil {
		return nil, storeError(err, "bulk update")
	}

	label := "unavailable"
	if available {
		label = "available"
	}
	return &types.Response{
		Content:      fmt.Sprintf(msgBulkUpdated, n, label),
		SessionToken: s.Token,
		Ephemeral:    true,
	}, nil
}

func (r *Router) handleDeleteCharacter(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, err := r.profileSession(ev)
	if err != nil {
		return nil, err
	}
	if ev.Target == "" {
		return nil, ErrMissingTarget
	}
	if err := r.checkCooldown(ctx, r.deps.ButtonCooldown, cooldown.ButtonKey(ev.ActorID, ev.Target, ev.Kind)); err != nil {
		return nil, err
	}

	if err := r.deps.Store.DeleteCharacter(ctx, ev.ActorID, ev.Target); err != nil {
		if errors.Is(err, interfaces.ErrCharacterNotFound) {
			return nil, types.NewError(types.KindNotFound, "%s", ev.Target)
		}
		return nil, storeError(err, "delete")
	}
	r.logger.Info("character deleted", "user_id", ev.ActorID, "character", ev.Target)

	return &types.Response{
		Content:      fmt.Sprintf(msgDeleted, ev.Target),
		Components:   characterControls(ev.Target, true),
		SessionToken: s.Token,
		Edit:         true,
		Ephemeral:    true,
	}, nil
}

// handleRefreshScore re-fetches the score of one character. The refresh
// cooldown is consumed before the lookup, so a failed lookup still waits out
// the full window.
func (r *Router) handleRefreshScore(ctx context.Context, ev *types.Event) (*types.Response, error) {
	s, err := r.profileSession(ev)
	if err != nil {
		return nil, err
	}
	if ev.Target == "" {
		return nil, ErrMissingTarget
	}
	if err := r.checkCooldown(ctx, r.deps.ButtonCooldown, cooldown.ButtonKey(ev.ActorID, ev.Target, ev.Kind)); err != nil {
		return nil, err
	}
	if err := r.checkCooldown(ctx, r.deps.RefreshCooldown, cooldown.RefreshKey(ev.ActorID, ev.Target)); err != nil {
		return nil, err
	}

	c, err := r.getCharacter(ctx, ev.ActorID, ev.Target)
	if err != nil {
		return nil, err
	}
	if c.ProfileURL == "" {
		return nil, ErrNoProfileLink
	}
	link, err := types.ParseProfileLink(c.ProfileURL)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := r.lookupContext(ctx)
	profile, err := r.deps.Ranking.Lookup(lookupCtx, link)
	cancel()
	if err != nil {
		if types.KindOf(err) == "" {
			err = types.WrapError(types.KindExternalLookupFailed, err, "refresh")
		}
		return nil, err
	}

	if _, ok := r.deps.Sessions.Get(s.Token); !ok {
		return nil, fmt.Errorf("refresh %s: %w", c.Name, registration.ErrStaleResult)
	}

	score := profile.Score
	updatedAt := r.now().UTC()
	update := types.CharacterUpdate{Score: &score, UpdatedAt: &updatedAt}
	if profile.Class != "" {
		class := profile.Class
		armor := types.ArmorForClass(class)
		update.Class = &class
		update.Armor = &armor
	}
	if err := r.updateCharacter(ctx, ev.ActorID, c.Name, update); err != nil {
		return nil, err
	}
	r.logger.Info("score refreshed", "user_id", ev.ActorID, "character", c.Name, "old_score", c.Score, "score", score)

	c.Score = score
	c.UpdatedAt = updatedAt
	if update.Class != nil {
		c.Class = *update.Class
		c.Armor = *update.Armor
	}
	return r.cardResponse(s, c), nil
}

func (r *Router) cardResponse(s *session.Session, c *types.Character) *types.Response {
	return &types.Response{
		Card:         characterCard(c),
		Components:   characterControls(c.Name, false),
		SessionToken: s.Token,
		Edit:         true,
		Ephemeral:    true,
	}
}

func (r *Router) getCharacter(ctx context.Context, userID, name string) (*types.Character, error) {
	c, err := r.deps.Store.GetCharacter(ctx, userID, name)
	if err != nil {
		if errors.Is(err, interfaces.ErrCharacterNotFound) {
			return nil, types.NewError(types.KindNotFound, "%s", name)
		}
		return nil, storeError(err, "get")
	}
	return c, nil
}

func (r *Router) updateCharacter(ctx context.Context, userID, name string, update types.CharacterUpdate) error {
	if err := r.deps.Store.UpdateCharacter(ctx, userID, name, update); err != nil {
		if errors.Is(err, interfaces.ErrCharacterNotFound) {
			return types.NewError(types.KindNotFound, "%s", name)
		}
		return storeError(err, "update")
	}
	return nil
}

func (r *Router) checkCooldown(ctx context.Context, store interfaces.CooldownStore, key string) error {
	if store == nil {
		return nil
	}
	ok, wait, err := store.CheckAndMark(ctx, key)
	if err != nil {
		return fmt.Errorf("cooldown %s: %w", key, err)
	}
	if !ok {
		return types.RetryError(types.KindCooldown, wait)
	}
	return nil
}
