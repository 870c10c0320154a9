package store

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/config"
	"github.com/feverup/marketplace/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL the adapter expects. Exposed for test bootstrap.
func Schema() string {
	return schemaSQL
}

// Postgres implements Store on a pooled Postgres connection via sqlx.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
	closed atomic.Bool
}

// Open connects to Postgres and configures the connection pool. The initial
// ping is bounded by cfg.ConnectTimeout.
func Open(cfg config.Database, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Postgres{db: db, logger: logger.Named("store")}, nil
}

// NewPostgresFromDB wraps an existing database handle. Used by tests.
func NewPostgresFromDB(db *sqlx.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.Named("store")}
}

const findOverlappingSQL = `
SELECT id, title,
       start_date::text AS start_date, start_time::text AS start_time,
       end_date::text   AS end_date,   end_time::text   AS end_time,
       min_price, max_price
FROM events
WHERE (start_date < $1 OR (start_date = $1 AND start_time <= $2))
  AND (end_date > $3 OR (end_date = $3 AND end_time >= $4))
ORDER BY start_date, start_time, id`

type eventRow struct {
	ID        uuid.UUID       `db:"id"`
	Title     string          `db:"title"`
	StartDate string          `db:"start_date"`
	StartTime string          `db:"start_time"`
	EndDate   string          `db:"end_date"`
	EndTime   string          `db:"end_time"`
	MinPrice  decimal.Decimal `db:"min_price"`
	MaxPrice  decimal.Decimal `db:"max_price"`
}

func (r eventRow) toEvent() (event.Event, error) {
	starts, err := event.ParseCivil(r.StartDate + "T" + r.StartTime)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: bad start %q %q: %w", r.ID, r.StartDate, r.StartTime, err)
	}
	ends, err := event.ParseCivil(r.EndDate + "T" + r.EndTime)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: bad end %q %q: %w", r.ID, r.EndDate, r.EndTime, err)
	}
	return event.Event{
		ID:       r.ID,
		Title:    r.Title,
		StartsAt: starts,
		EndsAt:   ends,
		MinPrice: r.MinPrice,
		MaxPrice: r.MaxPrice,
	}, nil
}

// FindOverlapping implements the closed-interval overlap query
// (start_ts <= to AND end_ts >= from) on the split date/time columns.
func (p *Postgres) FindOverlapping(ctx context.Context, from, to time.Time) ([]event.Event, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	var rows []eventRow
	err := p.db.SelectContext(ctx, &rows, findOverlappingSQL,
		to.Format(event.DateLayout), to.Format(event.TimeLayout),
		from.Format(event.DateLayout), from.Format(event.TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying overlapping events: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			// Row-level corruption is an invariant violation, not a reason
			// to fail the whole read.
			p.logger.Error("dropping corrupt event row", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

const upsertSQL = `
INSERT INTO events (id, title, start_date, start_time, end_date, end_time,
                    min_price, max_price, event_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
ON CONFLICT (event_hash) DO UPDATE SET
    title      = EXCLUDED.title,
    start_date = EXCLUDED.start_date,
    start_time = EXCLUDED.start_time,
    end_date   = EXCLUDED.end_date,
    end_time   = EXCLUDED.end_time,
    min_price  = EXCLUDED.min_price,
    max_price  = EXCLUDED.max_price,
    updated_at = now()
RETURNING (xmax = 0) AS inserted`

// UpsertBatch writes the batch in one transaction. The batch is first
// collapsed to one event per content hash (last write wins) and then ordered
// by hash so concurrent batches acquire row locks in the same order.
func (p *Postgres) UpsertBatch(ctx context.Context, events []event.Event) (UpsertResult, error) {
	var res UpsertResult
	if p.closed.Load() {
		return res, ErrClosed
	}
	if len(events) == 0 {
		return res, nil
	}

	batch := event.DedupeByHash(events)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Hash() < batch[j].Hash() })

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		var inserted bool
		err := tx.QueryRowContext(ctx, upsertSQL,
			e.ID, e.Title,
			e.StartsAt.Format(event.DateLayout), e.StartsAt.Format(event.TimeLayout),
			e.EndsAt.Format(event.DateLayout), e.EndsAt.Format(event.TimeLayout),
			e.MinPrice, e.MaxPrice, e.Hash(),
		).Scan(&inserted)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("upserting event %q: %w", e.Title, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("committing upsert transaction: %w", err)
	}

	p.logger.Debug("upsert batch committed",
		zap.Int("inserted", res.Inserted), zap.Int("updated", res.Updated))
	return res, nil
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

var _ Store = (*Postgres)(nil)
