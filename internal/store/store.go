// Package store persists user identities and relay counters. Two backends
// are provided: GormStore (SQLite or MySQL through GORM) and FileStore (the
// legacy JSON file layout).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStorage marks a failed durable read or write. Callers can test for it
// with errors.Is; the underlying cause is wrapped alongside.
var ErrStorage = errors.New("storage failure")

// IdentityStore maps platform users to their chosen nickname.
type IdentityStore interface {
	// Nickname returns the user's nickname and whether one is set.
	Nickname(ctx context.Context, userID string) (string, bool, error)

	// SetNickname stores nickname for userID, creating the identity record
	// on first use. The write is durable when SetNickname returns.
	SetNickname(ctx context.Context, userID, nickname string) error

	// RemoveNickname clears the user's nickname but keeps the record. It
	// reports whether a nickname was actually removed; removing from a user
	// without one is a no-op.
	RemoveNickname(ctx context.Context, userID string) (bool, error)
}

// CounterStore owns the global relay counters.
type CounterStore interface {
	// NextMessageNumber atomically increments total_messages and returns the
	// new value. No two calls return the same number.
	NextMessageNumber(ctx context.Context) (int64, error)

	// Stats returns the current counter values.
	Stats(ctx context.Context) (Stats, error)
}

// Store is a full backend.
type Store interface {
	IdentityStore
	CounterStore

	// Snapshot returns every identity record and the counters.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Restore writes a snapshot into the store, overwriting records with the
	// same user ID and replacing the counters.
	Restore(ctx context.Context, snap Snapshot) error
}

// Stats holds the global counters.
type Stats struct {
	TotalMessages int64 `json:"total_messages"`
	TotalUsers    int64 `json:"total_users"`
}

// IdentityRecord is one user's stored identity. An empty Nickname means the
// user posts anonymously; a zero CreatedAt means no nickname was ever set.
type IdentityRecord struct {
	Nickname  string
	CreatedAt time.Time
}

// Snapshot is a full copy of the persisted state.
type Snapshot struct {
	Identities map[string]IdentityRecord
	Stats      Stats
}
