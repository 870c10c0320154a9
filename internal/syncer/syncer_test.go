package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
	"github.com/feverup/marketplace/internal/store"
)

type fakeProvider struct {
	events []event.Event
	err    error
	calls  atomic.Int32
}

func (f *fakeProvider) FetchOnlineEvents(ctx context.Context) ([]event.Event, error) {
	f.calls.Add(1)
	return f.events, f.err
}

type recordingCache struct {
	mu    sync.Mutex
	order *[]string
	err   error
}

func (r *recordingCache) Invalidate(ctx context.Context, events []event.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.order = append(*r.order, "invalidate")
	return len(events), r.err
}

type recordingStore struct {
	mu    sync.Mutex
	order *[]string
	err   error
}

func (r *recordingStore) UpsertBatch(ctx context.Context, events []event.Event) (store.UpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.order = append(*r.order, "upsert")
	if r.err != nil {
		return store.UpsertResult{}, r.err
	}
	return store.UpsertResult{Inserted: len(events)}, nil
}

func testEvents(t *testing.T) []event.Event {
	t.Helper()
	starts, err := event.ParseCivil("2024-12-01T20:00:00")
	require.NoError(t, err)
	ends, err := event.ParseCivil("2024-12-01T22:00:00")
	require.NoError(t, err)
	return []event.Event{{Title: "Concert", StartsAt: starts, EndsAt: ends}}
}

func newTestSyncer(p Provider, c Invalidator, w Writer) *Syncer {
	return New(p, c, w, metrics.NewNop(), zap.NewNop())
}

func TestSyncOnceInvalidatesBeforeUpsert(t *testing.T) {
	var order []string
	p := &fakeProvider{events: testEvents(t)}
	s := newTestSyncer(p, &recordingCache{order: &order}, &recordingStore{order: &order})

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, []string{"invalidate", "upsert"}, order)
}

func TestSyncOnceEmptyCatalogIsNoOp(t *testing.T) {
	var order []string
	p := &fakeProvider{events: []event.Event{}}
	s := newTestSyncer(p, &recordingCache{order: &order}, &recordingStore{order: &order})

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Empty(t, order, "neither cache nor store should be touched")
}

func TestSyncOnceFetchFailureLeavesStateUntouched(t *testing.T) {
	var order []string
	p := &fakeProvider{err: errors.New("upstream down")}
	s := newTestSyncer(p, &recordingCache{order: &order}, &recordingStore{order: &order})

	err := s.SyncOnce(context.Background())
	assert.Error(t, err)
	assert.Empty(t, order)
}

func TestSyncOnceInvalidationFailureStillUpserts(t *testing.T) {
	var order []string
	p := &fakeProvider{events: testEvents(t)}
	cache := &recordingCache{order: &order, err: errors.New("redis gone")}
	s := newTestSyncer(p, cache, &recordingStore{order: &order})

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, []string{"invalidate", "upsert"}, order)
}

func TestSyncOnceUpsertFailureReturnsError(t *testing.T) {
	var order []string
	p := &fakeProvider{events: testEvents(t)}
	st := &recordingStore{order: &order, err: errors.New("db gone")}
	s := newTestSyncer(p, &recordingCache{order: &order}, st)

	assert.Error(t, s.SyncOnce(context.Background()))
}

type countingRunner struct {
	runs     atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	panics   atomic.Int32
}

func (c *countingRunner) SyncOnce(ctx context.Context) error {
	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxSeen.Load()
		if cur <= max || c.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.runs.Add(1)
	if c.panics.Load() > 0 {
		c.panics.Add(-1)
		panic("boom")
	}
	return nil
}

func TestSchedulerRunsImmediatelyThenPeriodically(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, 20*time.Millisecond, true, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	assert.GreaterOrEqual(t, runner.runs.Load(), int32(3), "immediate run plus ticks")
}

func TestSchedulerNeverOverlapsRuns(t *testing.T) {
	runner := &countingRunner{delay: 30 * time.Millisecond}
	sched := NewScheduler(runner, 5*time.Millisecond, true, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	assert.Equal(t, int32(1), runner.maxSeen.Load())
	// Ticks that fired mid-run were dropped, not queued.
	assert.Less(t, runner.runs.Load(), int32(10))
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	runner := &countingRunner{}
	runner.panics.Store(1)
	sched := NewScheduler(runner, 10*time.Millisecond, true, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NotPanics(t, func() { sched.Run(ctx) })

	assert.GreaterOrEqual(t, runner.runs.Load(), int32(2), "loop keeps ticking after a panic")
}

func TestSchedulerDisabled(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, time.Millisecond, false, zap.NewNop())

	require.NoError(t, sched.Run(context.Background()))
	assert.Zero(t, runner.runs.Load())
}
