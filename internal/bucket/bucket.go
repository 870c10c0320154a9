// Package bucket is the month-keyed Redis adapter underneath the cache
// strategy. One key per calendar month, holding a full snapshot of the
// events that touch it; an empty snapshot is a legitimate positive entry.
package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
)

const defaultKeyPrefix = "fever:events:month:"

// Snapshot is the serialized value of a month bucket. Decoding ignores
// unknown fields, so minor schema additions survive a rolling deploy.
type Snapshot struct {
	WrittenAt time.Time     `json:"written_at"`
	Events    []event.Event `json:"events"`
}

// Option configures the bucket store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix for month buckets.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTLPolicy sets the per-month TTL tiering.
func WithTTLPolicy(policy TTLPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

// WithClock overrides the time source used for TTL tiering. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the Redis-backed bucket store.
type Store struct {
	client *redis.Client
	prefix string
	policy TTLPolicy
	logger *zap.Logger
	now    func() time.Time
	closed atomic.Bool
}

// New connects to Redis and verifies connectivity.
// redisURL is a standard Redis URL ("redis://host:6379/0").
func New(redisURL string, dialTimeout time.Duration, logger *zap.Logger, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisOpts.DialTimeout = dialTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client, logger, opts...), nil
}

// NewFromClient wraps an existing Redis client. Used by tests (miniredis).
func NewFromClient(client *redis.Client, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultKeyPrefix,
		policy: DefaultTTLPolicy(),
		logger: logger.Named("bucket"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis key for a month bucket.
func (s *Store) Key(m event.Month) string {
	return s.prefix + m.Key()
}

// Get fetches a month's snapshot. A missing key returns (nil, nil); a
// present-but-empty snapshot is a hit and returns a non-nil value. Events
// that fail validation at decode time are dropped with a warning.
func (s *Store) Get(ctx context.Context, m event.Month) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("bucket store is closed")
	}

	data, err := s.client.Get(ctx, s.Key(m)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bucket %s: %w", m.Key(), err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding bucket %s: %w", m.Key(), err)
	}

	valid := snap.Events[:0]
	for _, e := range snap.Events {
		if err := e.Validate(); err != nil {
			s.logger.Warn("dropping invalid cached event",
				zap.String("bucket", m.Key()), zap.Error(err))
			continue
		}
		valid = append(valid, e)
	}
	snap.Events = valid
	return &snap, nil
}

// Put overwrites the month's snapshot with a TTL from the tier policy.
func (s *Store) Put(ctx context.Context, m event.Month, events []event.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("bucket store is closed")
	}

	snap := Snapshot{WrittenAt: s.now().UTC(), Events: events}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding bucket %s: %w", m.Key(), err)
	}

	ttl := s.policy.For(m, s.now())
	if err := s.client.Set(ctx, s.Key(m), data, ttl).Err(); err != nil {
		return fmt.Errorf("writing bucket %s: %w", m.Key(), err)
	}

	s.logger.Debug("bucket written",
		zap.String("bucket", m.Key()), zap.Int("events", len(events)), zap.Duration("ttl", ttl))
	return nil
}

// Delete drops the month's bucket, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, m event.Month) (bool, error) {
	if s.closed.Load() {
		return false, fmt.Errorf("bucket store is closed")
	}

	n, err := s.client.Del(ctx, s.Key(m)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting bucket %s: %w", m.Key(), err)
	}
	return n > 0, nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("bucket store is closed")
	}
	return s.client.Ping(ctx).Err()
}

// Count returns the approximate number of live bucket keys under the prefix.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("bucket store is closed")
	}

	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scanning buckets: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
