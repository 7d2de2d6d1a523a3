package types

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies every user-visible failure. The router maps each kind to
// a message template, so adding a kind means adding a template.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindInvalidRole          Kind = "invalid_role"
	KindMalformedLink        Kind = "malformed_link"
	KindExternalLookupFailed Kind = "external_lookup_failed"
	KindNameMismatch         Kind = "name_mismatch"
	KindRateLimited          Kind = "rate_limited"
	KindCooldown             Kind = "cooldown"
	KindDuplicateCharacter   Kind = "duplicate_character"
	KindCharacterLimit       Kind = "character_limit"
	KindCapacityExceeded     Kind = "capacity_exceeded"
	KindAlreadyOpen          Kind = "already_open"
	KindJustCompleted        Kind = "just_completed"
	KindAlreadyProcessed     Kind = "already_processed"
	KindNotFound             Kind = "not_found"
	KindPersistenceFailure   Kind = "persistence_failure"
	KindForbidden            Kind = "forbidden"
	KindNotOwner             Kind = "not_owner"
	KindInteractionLimit     Kind = "interaction_limit"
	KindSessionExpired       Kind = "session_expired"
	KindInvalidState         Kind = "invalid_state"
	KindInvalidEvent         Kind = "invalid_event"
)

// Error is the error type every bot-level failure is reported as.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind       Kind
	Detail     string
	RetryAfter time.Duration
	Submitted  string
	Found      string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind around cause.
func WrapError(kind Kind, cause error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// RetryError builds a throttling error that carries the remaining wait.
func RetryError(kind Kind, retryAfter time.Duration) *Error {
	return &Error{Kind: kind, RetryAfter: retryAfter}
}

// MismatchError reports a submitted name that differs from the one found.
func MismatchError(submitted, found string) *Error {
	return &Error{Kind: KindNameMismatch, Submitted: submitted, Found: found}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInvalidRole          = &Error{Kind: KindInvalidRole}
	ErrMalformedLink        = &Error{Kind: KindMalformedLink}
	ErrExternalLookupFailed = &Error{Kind: KindExternalLookupFailed}
	ErrNameMismatch         = &Error{Kind: KindNameMismatch}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrCooldown             = &Error{Kind: KindCooldown}
	ErrDuplicateCharacter   = &Error{Kind: KindDuplicateCharacter}
	ErrCharacterLimit       = &Error{Kind: KindCharacterLimit}
	ErrCapacityExceeded     = &Error{Kind: KindCapacityExceeded}
	ErrAlreadyOpen          = &Error{Kind: KindAlreadyOpen}
	ErrJustCompleted        = &Error{Kind: KindJustCompleted}
	ErrAlreadyProcessed     = &Error{Kind: KindAlreadyProcessed}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrPersistenceFailure   = &Error{Kind: KindPersistenceFailure}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrNotOwner             = &Error{Kind: KindNotOwner}
	ErrInteractionLimit     = &Error{Kind: KindInteractionLimit}
	ErrSessionExpired       = &Error{Kind: KindSessionExpired}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInvalidEvent         = &Error{Kind: KindInvalidEvent}
)
