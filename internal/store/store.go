// Package store defines the lifecycle store interface for book records.
// The store is the single serialization point between the walker, crawler,
// and uploader processes: ClaimNext hands exactly one record to exactly one
// caller, and Finish releases it into its next state.
package store

import (
	"context"

	"bookhaul/internal/book"
)

// Provider is the common interface for the lifecycle store. A Postgres
// implementation backs production; an in-memory one backs tests and
// single-process experiments.
type Provider interface {
	// ClaimNext atomically selects one record with status current,
	// transitions it to next, and returns it. It returns (nil, nil) when no
	// eligible record exists; callers treat that as "try again later".
	ClaimNext(ctx context.Context, current, next book.Status) (*book.Record, error)

	// Finish sets the record's status. Unknown identifiers are a no-op.
	Finish(ctx context.Context, id string, status book.Status) error

	// UpsertDiscovered inserts new records with StatusNotAcquired and merges
	// the tag sets of records that already exist, leaving their status
	// untouched. It returns the identifiers that were newly inserted.
	UpsertDiscovered(ctx context.Context, records []book.Record) ([]string, error)

	// Close releases the underlying resources.
	Close()
}
