// Package store provides the durable event store.
//
// The concrete implementation is Postgres; this file holds the interface and
// value types referenced by consumers (the cache strategy, the composer, and
// the sync pipeline) so that mocks can be substituted in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/feverup/marketplace/internal/event"
)

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("store is closed")

// UpsertResult reports the per-batch effect of UpsertBatch.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Store is the durable source of truth for events.
type Store interface {
	// FindOverlapping returns every event whose [StartsAt, EndsAt] interval
	// intersects the closed window [from, to], ordered ascending by start
	// timestamp with ties broken by ID. Empty result on no match; errors
	// only on transport failure.
	FindOverlapping(ctx context.Context, from, to time.Time) ([]event.Event, error)

	// UpsertBatch inserts or updates the batch in a single transaction,
	// keyed by the event content hash. New hashes are inserted with the
	// provided ID; existing hashes keep their original ID and have title,
	// times, prices, and updated_at overwritten. All-or-nothing.
	UpsertBatch(ctx context.Context, events []event.Event) (UpsertResult, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	Close() error
}
