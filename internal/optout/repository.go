// Package optout persists the set of numbers that have already been sent
// a STOP message, so no number is ever messaged twice.
package optout

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the opt-out layer.
var (
	ErrNotFound    = errors.New("number not in opt-out set")
	ErrEmptyNumber = errors.New("empty phone number")
)

// Entry is one opted-out number. The file backend only persists Number;
// the other fields survive in the sqlite and redis backends.
type Entry struct {
	Number  string    `json:"number"`
	Source  string    `json:"source,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Repository defines the storage contract for the opt-out set.
type Repository interface {
	// Contains reports whether number is in the set.
	Contains(ctx context.Context, number string) (bool, error)

	// Add inserts an entry. Adding a number that is already present keeps
	// the existing record.
	Add(ctx context.Context, e Entry) error

	// Remove deletes a number. Returns ErrNotFound if it is absent.
	Remove(ctx context.Context, number string) error

	// List returns every entry in ascending number order.
	List(ctx context.Context) ([]Entry, error)

	// Count returns the size of the set.
	Count(ctx context.Context) (int, error)

	// Flush persists pending changes. Write-through backends return nil.
	Flush(ctx context.Context) error

	// Close flushes and releases the backend.
	Close() error
}
