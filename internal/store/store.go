package store

import (
	"context"

	"github.com/hyperengineering/tether/internal/types"
)

// ActionStore defines the interface contract for durable queued-action
// storage. Implementations must make each mutating operation atomic:
// an Append either commits the whole record or nothing, and a Delete
// removes exactly one record.
type ActionStore interface {
	// Append persists a new queued action. Returns only after the
	// write is durably committed.
	Append(ctx context.Context, action types.QueuedAction) error

	// OldestFirst returns up to limit actions in enqueue order.
	// A limit <= 0 returns all queued actions.
	OldestFirst(ctx context.Context, limit int) ([]types.QueuedAction, error)

	// Delete removes a single action by ID. Deleting an absent ID
	// returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Clear unconditionally empties the store.
	Clear(ctx context.Context) error

	// Count returns the number of queued actions.
	Count(ctx context.Context) (int, error)

	Close() error
}
