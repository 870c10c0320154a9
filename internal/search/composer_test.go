package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/metrics"
)

type fakeCache struct {
	mu      sync.Mutex
	events  []event.Event
	hit     bool
	err     error
	fills   [][]event.Event
	fillErr error
}

func (f *fakeCache) Query(context.Context, time.Time, time.Time) ([]event.Event, bool, error) {
	return f.events, f.hit, f.err
}

func (f *fakeCache) Fill(_ context.Context, _, _ time.Time, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, events)
	return f.fillErr
}

func (f *fakeCache) fillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fills)
}

type fakeStore struct {
	events []event.Event
	err    error
	calls  int
}

func (f *fakeStore) FindOverlapping(context.Context, time.Time, time.Time) ([]event.Event, error) {
	f.calls++
	return f.events, f.err
}

func mkEvent(t *testing.T, title, start, end string) event.Event {
	t.Helper()
	s, err := event.ParseCivil(start)
	require.NoError(t, err)
	e, err := event.ParseCivil(end)
	require.NoError(t, err)
	return event.Event{
		ID:       uuid.New(),
		Title:    title,
		StartsAt: s,
		EndsAt:   e,
		MinPrice: decimal.NewFromInt(25),
		MaxPrice: decimal.NewFromInt(100),
	}
}

func runPool(t *testing.T, pool *FillPool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testWindow(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	from, err := event.ParseCivil("2024-12-01T00:00:00")
	require.NoError(t, err)
	to, err := event.ParseCivil("2024-12-31T23:59:59")
	require.NoError(t, err)
	return from, to
}

func TestSearchRejectsInvertedRange(t *testing.T) {
	c := NewComposer(&fakeCache{}, &fakeStore{}, nil, metrics.NewNop(), zap.NewNop())
	from, to := testWindow(t)
	_, err := c.Search(context.Background(), to, from)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestSearchCacheHitSkipsStore(t *testing.T) {
	e := mkEvent(t, "ConcertMadrid", "2024-12-15T20:00:00", "2024-12-15T23:00:00")
	cache := &fakeCache{events: []event.Event{e}, hit: true}
	store := &fakeStore{}
	c := NewComposer(cache, store, nil, metrics.NewNop(), zap.NewNop())

	from, to := testWindow(t)
	events, err := c.Search(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Zero(t, store.calls)
}

func TestSearchCacheMissFallsThroughAndFills(t *testing.T) {
	e := mkEvent(t, "ConcertMadrid", "2024-12-15T20:00:00", "2024-12-15T23:00:00")
	cache := &fakeCache{hit: false}
	store := &fakeStore{events: []event.Event{e}}
	pool := NewFillPool(1, 4, zap.NewNop())
	runPool(t, pool)
	c := NewComposer(cache, store, pool, metrics.NewNop(), zap.NewNop())

	from, to := testWindow(t)
	events, err := c.Search(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, store.calls)

	// The fill is asynchronous but must eventually reach the cache.
	require.Eventually(t, func() bool { return cache.fillCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSearchCacheErrorFallsBackWithoutFill(t *testing.T) {
	e := mkEvent(t, "ConcertMadrid", "2024-12-15T20:00:00", "2024-12-15T23:00:00")
	cache := &fakeCache{err: errors.New("redis: connection refused")}
	store := &fakeStore{events: []event.Event{e}}
	pool := NewFillPool(1, 4, zap.NewNop())
	runPool(t, pool)
	c := NewComposer(cache, store, pool, metrics.NewNop(), zap.NewNop())

	from, to := testWindow(t)
	events, err := c.Search(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, store.calls)

	// No write-back on cache failure.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, cache.fillCount())
}

func TestSearchStoreErrorPropagates(t *testing.T) {
	cache := &fakeCache{hit: false}
	store := &fakeStore{err: errors.New("connection refused")}
	c := NewComposer(cache, store, nil, metrics.NewNop(), zap.NewNop())

	from, to := testWindow(t)
	_, err := c.Search(context.Background(), from, to)
	assert.Error(t, err)
}

func TestSearchEmptyResultIsNotNil(t *testing.T) {
	c := NewComposer(&fakeCache{hit: false}, &fakeStore{}, nil, metrics.NewNop(), zap.NewNop())
	from, to := testWindow(t)
	events, err := c.Search(context.Background(), from, to)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestFillPoolDropsWhenFull(t *testing.T) {
	pool := NewFillPool(1, 1, zap.NewNop())
	// Not running: the single queue slot fills and the second task drops.
	assert.True(t, pool.Enqueue(func(context.Context) {}))
	assert.False(t, pool.Enqueue(func(context.Context) {}))
}

func TestFillPoolSurvivesPanic(t *testing.T) {
	pool := NewFillPool(1, 4, zap.NewNop())
	runPool(t, pool)

	var mu sync.Mutex
	ran := false
	require.True(t, pool.Enqueue(func(context.Context) { panic("boom") }))
	require.True(t, pool.Enqueue(func(context.Context) {
		mu.Lock()
		defer mu.Unlock()
		ran = true
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, 5*time.Millisecond)
}
