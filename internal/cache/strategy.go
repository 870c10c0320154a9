// Package cache implements the month-bucket caching strategy: queries are
// decomposed into calendar months, answered from whole-month Redis snapshots
// where present, and stitched up with a single durable-store read for the
// months that are not.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/bucket"
	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
)

// Reader is the slice of the durable store the strategy needs to complete a
// partial hit.
type Reader interface {
	FindOverlapping(ctx context.Context, from, to time.Time) ([]event.Event, error)
}

// Async enqueues best-effort background work. Enqueue must never block; it
// reports whether the task was accepted.
type Async interface {
	Enqueue(task func(context.Context)) bool
}

// Strategy answers range queries from month buckets.
type Strategy struct {
	buckets   *bucket.Store
	store     Reader
	async     Async
	maxMonths int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New builds a Strategy. async may be nil, in which case missed-month
// repopulation is skipped (the next miss repopulates via the composer).
func New(buckets *bucket.Store, store Reader, async Async, maxMonths int, m *metrics.Metrics, logger *zap.Logger) *Strategy {
	return &Strategy{
		buckets:   buckets,
		store:     store,
		async:     async,
		maxMonths: maxMonths,
		metrics:   m,
		logger:    logger.Named("cache"),
	}
}

// Query returns the events intersecting [from, to] if the cache can answer,
// with ok reporting whether it could. ok=false with a nil error is a miss
// (including the cache-bypass for oversized windows); an error means the
// cache layer itself failed and the caller should fall back.
func (s *Strategy) Query(ctx context.Context, from, to time.Time) ([]event.Event, bool, error) {
	months := event.MonthsBetween(from, to)
	if len(months) > s.maxMonths {
		s.logger.Debug("query spans too many months, bypassing cache",
			zap.Int("months", len(months)), zap.Int("max", s.maxMonths))
		return nil, false, nil
	}

	cached := make(map[event.Month][]event.Event, len(months))
	var missed []event.Month
	for _, m := range months {
		snap, err := s.buckets.Get(ctx, m)
		if err != nil {
			return nil, false, fmt.Errorf("reading bucket %s: %w", m.Key(), err)
		}
		if snap == nil {
			missed = append(missed, m)
			continue
		}
		cached[m] = snap.Events
	}

	if len(cached) == 0 {
		return nil, false, nil
	}

	if len(missed) == 0 {
		return s.assembleFullHit(cached, from, to), true, nil
	}
	return s.assemblePartialHit(ctx, months, cached, missed, from, to)
}

func (s *Strategy) assembleFullHit(cached map[event.Month][]event.Event, from, to time.Time) []event.Event {
	var all []event.Event
	for _, events := range cached {
		for _, e := range events {
			if e.Overlaps(from, to) {
				all = append(all, e)
			}
		}
	}
	all = event.DedupeByID(all)
	event.Sort(all)
	if all == nil {
		all = []event.Event{}
	}
	return all
}

// assemblePartialHit completes the cached months with one durable read,
// keeping from it only events whose starting month was missed; cached
// months stay authoritative for their own events.
func (s *Strategy) assemblePartialHit(ctx context.Context, months []event.Month, cached map[event.Month][]event.Event, missed []event.Month, from, to time.Time) ([]event.Event, bool, error) {
	// The read spans whole months, not just [from, to]: missed buckets are
	// rewritten as authoritative snapshots afterwards, so they must include
	// events that intersect the month outside the query window.
	spanFrom := months[0].FirstDay()
	spanTo := months[len(months)-1].Next().FirstDay().Add(-time.Second)
	dbEvents, err := s.store.FindOverlapping(ctx, spanFrom, spanTo)
	if err != nil {
		return nil, false, fmt.Errorf("completing partial hit: %w", err)
	}

	missedSet := make(map[event.Month]struct{}, len(missed))
	for _, m := range missed {
		missedSet[m] = struct{}{}
	}
	var fromMissed []event.Event
	for _, e := range dbEvents {
		if !e.Overlaps(from, to) {
			continue
		}
		if _, ok := missedSet[event.MonthOf(e.StartsAt)]; ok {
			fromMissed = append(fromMissed, e)
		}
	}

	var merged []event.Event
	for _, events := range cached {
		for _, e := range events {
			if e.Overlaps(from, to) {
				merged = append(merged, e)
			}
		}
	}
	merged = append(merged, fromMissed...)
	merged = event.DedupeByID(merged)
	event.Sort(merged)

	s.repopulateAsync(missed, dbEvents)

	s.logger.Debug("partial cache hit",
		zap.Int("cached_months", len(cached)), zap.Int("missed_months", len(missed)),
		zap.Int("events", len(merged)))
	return merged, true, nil
}

// repopulateAsync rewrites each missed month's bucket from the durable
// events that fall into it. events must contain every stored event
// intersecting any missed month, or the rewritten buckets lie. Best-effort:
// a dropped or failed task just means the next miss repopulates.
func (s *Strategy) repopulateAsync(missed []event.Month, events []event.Event) {
	if s.async == nil {
		return
	}

	byMonth := make(map[event.Month][]event.Event, len(missed))
	for _, m := range missed {
		byMonth[m] = nil // an empty month is cached as an empty snapshot
	}
	for _, e := range events {
		for _, m := range e.Months() {
			if _, ok := byMonth[m]; ok {
				byMonth[m] = append(byMonth[m], e)
			}
		}
	}

	accepted := s.async.Enqueue(func(ctx context.Context) {
		for m, monthEvents := range byMonth {
			if err := s.buckets.Put(ctx, m, monthEvents); err != nil {
				s.logger.Warn("missed-month repopulation failed",
					zap.String("bucket", m.Key()), zap.Error(err))
			}
		}
	})
	if !accepted {
		s.metrics.FillDropped.Inc()
	}
}

// Fill populates buckets for every month touched by the given events,
// merging with whatever those buckets already hold. The composer calls this
// after a full miss was answered by the durable store.
func (s *Strategy) Fill(ctx context.Context, from, to time.Time, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	byMonth := make(map[event.Month][]event.Event)
	for _, e := range events {
		for _, m := range e.Months() {
			byMonth[m] = append(byMonth[m], e)
		}
	}

	for m, monthEvents := range byMonth {
		snap, err := s.buckets.Get(ctx, m)
		if err != nil {
			return fmt.Errorf("filling bucket %s: %w", m.Key(), err)
		}
		if snap != nil {
			monthEvents = event.DedupeByID(append(snap.Events, monthEvents...))
		}
		event.Sort(monthEvents)
		if err := s.buckets.Put(ctx, m, monthEvents); err != nil {
			return fmt.Errorf("filling bucket %s: %w", m.Key(), err)
		}
	}

	s.logger.Debug("filled buckets", zap.Int("months", len(byMonth)), zap.Int("events", len(events)))
	return nil
}

// Invalidate drops every bucket whose month is touched by any of the events
// and returns the number of buckets that actually existed. Runs before the
// durable upsert so that no reader pairs a stale bucket with the new store
// state.
func (s *Strategy) Invalidate(ctx context.Context, events []event.Event) (int, error) {
	months := event.TouchedMonths(events)

	var dropped int
	for _, m := range months {
		existed, err := s.buckets.Delete(ctx, m)
		if err != nil {
			return dropped, fmt.Errorf("invalidating bucket %s: %w", m.Key(), err)
		}
		if existed {
			dropped++
			s.metrics.Invalidations.Inc()
		}
	}

	if n, err := s.buckets.Count(ctx); err == nil {
		s.metrics.BucketCount.Set(float64(n))
	}

	s.logger.Debug("invalidated buckets",
		zap.Int("touched_months", len(months)), zap.Int("dropped", dropped))
	return dropped, nil
}
