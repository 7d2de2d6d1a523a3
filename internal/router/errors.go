package router

import "rosterbot/pkg/types"

// Router-level rejections.
var (
	ErrForbidden      = types.NewError(types.KindForbidden, "admin command")
	ErrMissingTarget  = types.NewError(types.KindInvalidInput, "event has no target character")
	ErrWrongSession   = types.NewError(types.KindInvalidState, "event does not belong to this kind of session")
	ErrFormNotOffered = types.NewError(types.KindInvalidState, "form is not open")
	ErrNoProfileLink  = types.NewError(types.KindNotFound, "character has no stored profile link")
	ErrUnhandledEvent = types.NewError(types.KindInvalidEvent, "no handler for event")
)
