package interfaces

import (
	"context"

	"rosterbot/pkg/types"
)

// EventRouter turns one gateway event into at most one response.
type EventRouter interface {
	// Route handles ev. A nil response means nothing should be sent back,
	// as for discarded late results.
	Route(ctx context.Context, ev *types.Event) *types.Response
}
