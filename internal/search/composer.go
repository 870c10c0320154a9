// Package search glues the bucket cache and the durable store into one
// coherent range query. The composer tries the cache, falls back to the
// store, and repopulates the cache off the critical path.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
)

// ErrInvalidRange is returned when the requested window is inverted.
var ErrInvalidRange = errors.New("starts_at is after ends_at")

// Cache is the strategy surface the composer drives.
type Cache interface {
	Query(ctx context.Context, from, to time.Time) ([]event.Event, bool, error)
	Fill(ctx context.Context, from, to time.Time, events []event.Event) error
}

// Reader is the durable-store surface the composer falls back to.
type Reader interface {
	FindOverlapping(ctx context.Context, from, to time.Time) ([]event.Event, error)
}

// Composer serves range queries cache-first with durable fallback.
type Composer struct {
	cache   Cache
	store   Reader
	pool    *FillPool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewComposer builds a Composer. pool may be nil, in which case cache fills
// after a miss are skipped entirely.
func NewComposer(cache Cache, store Reader, pool *FillPool, m *metrics.Metrics, logger *zap.Logger) *Composer {
	return &Composer{
		cache:   cache,
		store:   store,
		pool:    pool,
		metrics: m,
		logger:  logger.Named("search"),
	}
}

// Search returns every event whose lifespan intersects [from, to], ordered
// by start timestamp. The critical path never waits on cache repopulation.
func (c *Composer) Search(ctx context.Context, from, to time.Time) ([]event.Event, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}

	events, ok, err := c.cache.Query(ctx, from, to)
	if err != nil {
		// Degraded-correct: the store remains the source of truth. No
		// write-back — the cache layer is misbehaving.
		c.metrics.CacheErrors.Inc()
		c.logger.Warn("cache query failed, falling back to store", zap.Error(err))
		return c.fromStore(ctx, from, to)
	}
	if ok {
		c.metrics.CacheHits.Inc()
		return events, nil
	}

	c.metrics.CacheMisses.Inc()
	events, err = c.fromStore(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if c.pool != nil {
		fill := events
		accepted := c.pool.Enqueue(func(taskCtx context.Context) {
			if err := c.cache.Fill(taskCtx, from, to, fill); err != nil {
				c.logger.Warn("async cache fill failed", zap.Error(err))
			}
		})
		if !accepted {
			c.metrics.FillDropped.Inc()
		}
	}
	return events, nil
}

func (c *Composer) fromStore(ctx context.Context, from, to time.Time) ([]event.Event, error) {
	events, err := c.store.FindOverlapping(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("searching durable store: %w", err)
	}
	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}
