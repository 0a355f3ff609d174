// Tracks the last trigger activation per user, for enforcing the inter-activation cooldown.
//
// This is deliberately separate from the durable activation log. The in-memory implementation loses its contents on restart, which allows one activation immediately after a restart even if one just fired; the redis implementation survives restarts and is shared between instances.
package cooldownstore

import (
	"context"
	"time"
)

type CooldownStore interface {
	// Returns the last activation time, and false if none is tracked
	LastActivation(ctx context.Context, user string) (time.Time, bool, error)
	MarkActivation(ctx context.Context, user string, at time.Time) error
	Reset(ctx context.Context, user string) error
	// Removes entries with a last activation before cutoff, returning the number removed
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
