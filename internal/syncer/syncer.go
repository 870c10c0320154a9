// Package syncer drives the ingestion pipeline: fetch the upstream catalog,
// invalidate the month buckets the new events touch, then upsert the batch
// into the durable store. Invalidation strictly precedes the write so a
// reader can never pair a stale bucket with the new store state once a sync
// has returned.
package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
	"github.com/feverup/marketplace/internal/store"
)

// Provider fetches the upstream catalog.
type Provider interface {
	FetchOnlineEvents(ctx context.Context) ([]event.Event, error)
}

// Invalidator drops the cache buckets an event batch touches.
type Invalidator interface {
	Invalidate(ctx context.Context, events []event.Event) (int, error)
}

// Writer persists an event batch.
type Writer interface {
	UpsertBatch(ctx context.Context, events []event.Event) (store.UpsertResult, error)
}

// Syncer runs the fetch → invalidate → upsert pipeline.
type Syncer struct {
	provider Provider
	cache    Invalidator
	store    Writer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds a Syncer.
func New(provider Provider, cache Invalidator, st Writer, m *metrics.Metrics, logger *zap.Logger) *Syncer {
	return &Syncer{
		provider: provider,
		cache:    cache,
		store:    st,
		metrics:  m,
		logger:   logger.Named("syncer"),
	}
}

// SyncOnce runs one pipeline pass. An empty catalog (including a tripped
// breaker upstream) is a no-op. The returned error is informational; the
// scheduler logs it and keeps ticking.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.metrics.SyncAttempts.Inc()

	events, err := s.provider.FetchOnlineEvents(ctx)
	if err != nil {
		s.metrics.SyncFailures.Inc()
		return fmt.Errorf("fetching catalog: %w", err)
	}
	if len(events) == 0 {
		s.logger.Debug("no online events upstream, nothing to sync")
		return nil
	}

	// Invalidation failure is not fatal: a stale bucket either expires by
	// TTL or is overwritten by the next fill. The durable write must not be
	// held hostage by the cache.
	if dropped, err := s.cache.Invalidate(ctx, events); err != nil {
		s.logger.Warn("bucket invalidation failed, continuing with upsert", zap.Error(err))
	} else {
		s.logger.Debug("invalidated buckets before upsert", zap.Int("dropped", dropped))
	}

	res, err := s.store.UpsertBatch(ctx, events)
	if err != nil {
		s.metrics.SyncFailures.Inc()
		return fmt.Errorf("upserting %d events: %w", len(events), err)
	}

	s.logger.Info("sync complete",
		zap.Int("fetched", len(events)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated))
	return nil
}
