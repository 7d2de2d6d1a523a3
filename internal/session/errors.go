package session

import "rosterbot/pkg/types"

// Registry and guard errors. They are types.Error values so callers can
// match them with errors.Is against the types sentinels as well.
var (
	ErrSessionNotFound    = types.NewError(types.KindSessionExpired, "session not found")
	ErrAlreadyOpen        = types.NewError(types.KindAlreadyOpen, "registration already in progress")
	ErrJustCompleted      = types.NewError(types.KindJustCompleted, "registration just completed")
	ErrCapacityExceeded   = types.NewError(types.KindCapacityExceeded, "too many open sessions")
	ErrNotOwner           = types.NewError(types.KindNotOwner, "session belongs to another user")
	ErrInteractionLimit   = types.NewError(types.KindInteractionLimit, "session interaction limit reached")
	ErrSessionExpired     = types.NewError(types.KindSessionExpired, "session expired")
	ErrInvalidSessionKind = types.NewError(types.KindInvalidState, "unknown session kind")
)
