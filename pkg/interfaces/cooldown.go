package interfaces

import (
	"context"
	"time"
)

// CooldownStore enforces a fixed window between accepted actions per key.
type CooldownStore interface {
	// CheckAndMark accepts and records the action when the key's window has
	// elapsed. Otherwise it reports the remaining wait and leaves the
	// recorded time unchanged.
	CheckAndMark(ctx context.Context, key string) (bool, time.Duration, error)

	// Window returns the configured window.
	Window() time.Duration
}
