package interfaces

import (
	"context"

	"rosterbot/pkg/types"
)

// RankingClient fetches a character's public profile from the ranking service.
type RankingClient interface {
	// Lookup returns the profile behind link. Any failure is reported as
	// types.KindExternalLookupFailed.
	Lookup(ctx context.Context, link types.ProfileLink) (*types.RankingProfile, error)
}
