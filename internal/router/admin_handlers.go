package router

import (
	"context"
	"fmt"
	"strings"

	"rosterbot/pkg/types"
)

// AvailableCharacters lists every available character by score, highest
// first. It reads through the store's list lock.
func (r *Router) AvailableCharacters(ctx context.Context) ([]*types.Character, error) {
	chars, err := r.deps.Store.ListCharacters(ctx, types.CharacterFilter{
		AvailableOnly: true,
		OrderByScore:  true,
	})
	if err != nil {
		return nil, storeError(err, "list available")
	}
	return chars, nil
}

func (r *Router) handleAvailable(ctx context.Context, ev *types.Event) (*types.Response, error) {
	chars, err := r.AvailableCharacters(ctx)
	if err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return &types.Response{Content: msgNoneAvailable, Ephemeral: true}, nil
	}

	card := &types.Card{
		Title: fmt.Sprintf("Available characters (%d)", len(chars)),
		Color: colorInfo,
	}
	shown := chars
	if len(shown) > availableListSize {
		shown = shown[:availableListSize]
		card.Footer = fmt.Sprintf("Showing %d of %d", availableListSize, len(chars))
	}
	for i, c := range shown {
		card.Fields = append(card.Fields, types.CardField{
			Name:  fmt.Sprintf("%d. %s", i+1, c.Name),
			Value: rosterLine(c) + " | <@" + c.UserID + ">",
		})
	}
	return &types.Response{Card: card, Ephemeral: true}, nil
}

func (r *Router) handleGroups(ctx context.Context, ev *types.Event) (*types.Response, error) {
	chars, err := r.AvailableCharacters(ctx)
	if err != nil {
		return nil, err
	}
	roster := BuildGroups(chars)
	if len(roster.Groups) == 0 && len(roster.Bench) == 0 {
		return &types.Response{Content: msgNoneAvailable, Ephemeral: true}, nil
	}

	card := &types.Card{
		Title: fmt.Sprintf("Groups (%d)", len(roster.Groups)),
		Color: colorInfo,
	}
	for _, g := range roster.Groups {
		lines := make([]string, 0, 5)
		for _, c := range g.Members() {
			lines = append(lines, fmt.Sprintf("%s %s (%.1f)", roleTag(c.Role), c.Name, c.Score))
		}
		card.Fields = append(card.Fields, types.CardField{
			Name:  fmt.Sprintf("Group %d", g.Number),
			Value: strings.Join(lines, "\n"),
		})
	}
	if len(roster.Bench) > 0 {
		names := make([]string, 0, len(roster.Bench))
		for _, c := range roster.Bench {
			names = append(names, fmt.Sprintf("%s %s", roleTag(c.Role), c.Name))
		}
		card.Fields = append(card.Fields, types.CardField{Name: "Bench", Value: strings.Join(names, "\n")})
	}
	return &types.Response{Card: card, Ephemeral: true}, nil
}

func roleTag(role types.Role) string {
	switch role {
	case types.RoleTank:
		return "[T]"
	case types.RoleHealer:
		return "[H]"
	default:
		return "[D]"
	}
}
