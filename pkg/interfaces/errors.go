package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrCharacterNotFound  = errors.New("character not found")
	ErrDuplicateCharacter = errors.New("character already registered")
)
