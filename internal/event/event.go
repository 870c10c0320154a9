// Package event holds the domain model shared by the store, cache, and
// provider layers.
//
// All timestamps in this package are naive civil time: a wall-clock date and
// time of day with no zone attached. They are carried in time.UTC purely so
// that time.Time comparisons behave lexicographically; no conversion ever
// happens.
package event

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CivilLayout is the wire format for civil timestamps (ISO local date-time,
// no zone designator).
const CivilLayout = "2006-01-02T15:04:05"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Event is a single online event from the upstream catalog. Values are
// immutable once created; mutation happens only through the store's upsert.
type Event struct {
	ID       uuid.UUID       `json:"id"`
	Title    string          `json:"title"`
	StartsAt time.Time       `json:"starts_at"`
	EndsAt   time.Time       `json:"ends_at"`
	MinPrice decimal.Decimal `json:"min_price"`
	MaxPrice decimal.Decimal `json:"max_price"`
}

// ParseCivil parses an ISO local date-time into a civil timestamp.
func ParseCivil(s string) (time.Time, error) {
	return time.ParseInLocation(CivilLayout, s, time.UTC)
}

// Validate reports the first invariant violated by the event, or nil.
func (e Event) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("event %s: empty title", e.ID)
	}
	if e.EndsAt.Before(e.StartsAt) {
		return fmt.Errorf("event %s: ends %s before start %s",
			e.ID, e.EndsAt.Format(CivilLayout), e.StartsAt.Format(CivilLayout))
	}
	if e.MinPrice.IsNegative() {
		return fmt.Errorf("event %s: negative min price %s", e.ID, e.MinPrice)
	}
	if e.MaxPrice.LessThan(e.MinPrice) {
		return fmt.Errorf("event %s: max price %s below min price %s",
			e.ID, e.MaxPrice, e.MinPrice)
	}
	return nil
}

// Overlaps reports whether the event's [StartsAt, EndsAt] interval intersects
// the closed window [from, to].
func (e Event) Overlaps(from, to time.Time) bool {
	return !e.StartsAt.After(to) && !e.EndsAt.Before(from)
}

// Sort orders events ascending by start timestamp, ties broken by ID so the
// order is deterministic across calls.
func Sort(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].StartsAt.Before(events[j].StartsAt)
		}
		return events[i].ID.String() < events[j].ID.String()
	})
}

// DedupeByID removes duplicate IDs, keeping the first occurrence. Events that
// span several months live in every bucket they touch, so a multi-bucket read
// produces duplicates that must be collapsed before returning.
func DedupeByID(events []Event) []Event {
	seen := make(map[uuid.UUID]struct{}, len(events))
	out := events[:0]
	for _, e := range events {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
