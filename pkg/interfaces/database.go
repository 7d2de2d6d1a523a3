package interfaces

import (
	"context"

	"rosterbot/pkg/types"
)

// CharacterStore persists roster entries.
type CharacterStore interface {
	// GetCharacter returns the character a user registered under name,
	// matched case-insensitively, or ErrCharacterNotFound.
	GetCharacter(ctx context.Context, userID, name string) (*types.Character, error)

	// FindCharacterByName looks a name up across all users,
	// case-insensitively, or returns ErrCharacterNotFound.
	FindCharacterByName(ctx context.Context, name string) (*types.Character, error)

	// CountCharacters returns how many characters userID has registered.
	CountCharacters(ctx context.Context, userID string) (int, error)

	// UpsertCharacter inserts c or overwrites the row with the same
	// (user, name). It reports whether a new row was created.
	UpsertCharacter(ctx context.Context, c *types.Character) (bool, error)

	// UpdateCharacter applies update to one character.
	UpdateCharacter(ctx context.Context, userID, name string, update types.CharacterUpdate) error

	// UpdateUserCharacters applies update to every character of userID and
	// returns the number of rows changed.
	UpdateUserCharacters(ctx context.Context, userID string, update types.CharacterUpdate) (int64, error)

	// DeleteCharacter removes one character.
	DeleteCharacter(ctx context.Context, userID, name string) error

	// ListCharacters returns characters matching filter. Listing reads are
	// serialized against multi-row writes.
	ListCharacters(ctx context.Context, filter types.CharacterFilter) ([]*types.Character, error)

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close stops the writer and closes the database.
	Close() error
}
