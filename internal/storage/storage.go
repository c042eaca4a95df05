// Package storage holds the backing stores for fixed-window counters: a
// sharded in-process map and a Redis-backed store shared across instances.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when an optimistic update lost every retry to
	// concurrent writers.
	ErrConflict = errors.New("storage: concurrent update conflict")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)

// Record is the fixed-window state kept per key.
type Record struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix epoch milliseconds
}

// Expired reports whether the window ended before nowMs.
func (r Record) Expired(nowMs int64) bool {
	return nowMs > r.ResetAt
}

// Mutator receives the stored record for a key (nil when there is none) and
// returns the record to persist. Returning nil leaves stored state untouched.
//
// A Mutator may be invoked more than once per Update when a store retries an
// optimistic transaction, so it must not have side effects beyond its
// captured result.
type Mutator func(current *Record) *Record

// Store abstracts where counters live.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored record for key, or nil if there is none.
	Get(ctx context.Context, key string) (*Record, error)

	// Set stores rec for key.
	Set(ctx context.Context, key string, rec Record) error

	// Update runs fn against the current record and persists its result as
	// one atomic unit per key.
	Update(ctx context.Context, key string, fn Mutator) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. It is idempotent.
	Close() error
}
