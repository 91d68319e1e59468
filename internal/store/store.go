package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/intelhub/pkg/event"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no event has the requested id.
var ErrNotFound = errors.New("event not found")

// QueryOpts controls event listing.
type QueryOpts struct {
	SinceMs  int64
	MinScore float64
	Limit    int
	// ByScore orders by score first (the "high" view) instead of detection time.
	ByScore bool
}

// Store is the persistence interface.
type Store interface {
	Upsert(ctx context.Context, ev *event.Event) error
	MarkPushed(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*event.Event, error)
	DeleteExpired(ctx context.Context, nowMs int64) (int64, error)
	ExistsRecentThrottled(ctx context.Context, threadKey string, window time.Duration) (bool, error)
	QueryRecent(ctx context.Context, opts QueryOpts) ([]event.Event, error)
	Count(ctx context.Context) (int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts or refreshes an event. The pushed flag is merged with the
// stored value and never cleared; ev.Pushed is updated to the merged value.
func (s *SQLiteStore) Upsert(ctx context.Context, ev *event.Event) error {
	if ev.ID == "" {
		return errors.New("upsert event: missing id")
	}
	ev.Flatten()

	var pushed bool
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO events (id, ts_detected, ts_published, headline, source, link, market, symbols, categories, tags, score, pushed, expires_at, thread_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ts_detected = excluded.ts_detected,
			ts_published = excluded.ts_published,
			headline = excluded.headline,
			source = excluded.source,
			link = excluded.link,
			market = excluded.market,
			symbols = excluded.symbols,
			categories = excluded.categories,
			tags = excluded.tags,
			score = excluded.score,
			pushed = MAX(events.pushed, excluded.pushed),
			expires_at = excluded.expires_at,
			thread_key = excluded.thread_key
		RETURNING pushed
	`, ev.ID, ev.DetectedAt, ev.PublishedAt, ev.Headline, ev.Source, ev.Link,
		ev.Market, ev.SymbolsJoined, ev.CategoriesJoined, ev.TagsJoined,
		ev.Score, ev.Pushed, ev.ExpiresAt, ev.ThreadKey).Scan(&pushed)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	ev.Pushed = pushed
	return nil
}

func (s *SQLiteStore) MarkPushed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE events SET pushed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark pushed %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.Event, error) {
	var ev event.Event
	err := s.db.GetContext(ctx, &ev, "SELECT * FROM events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	ev.Expand()
	return &ev, nil
}

// DeleteExpired removes rows whose expiry is set and strictly before nowMs.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE expires_at > 0 AND expires_at < ?", nowMs)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExistsRecentThrottled reports whether a pushed event with threadKey was
// detected within window.
func (s *SQLiteStore) ExistsRecentThrottled(ctx context.Context, threadKey string, window time.Duration) (bool, error) {
	if threadKey == "" {
		return false, nil
	}
	cutoff := s.now().Add(-window).UnixMilli()

	var one int
	err := s.db.GetContext(ctx, &one, `
		SELECT 1 FROM events
		WHERE thread_key = ? AND ts_detected >= ? AND pushed = 1
		LIMIT 1
	`, threadKey, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check thread %s: %w", threadKey, err)
	}
	return true, nil
}

func (s *SQLiteStore) QueryRecent(ctx context.Context, opts QueryOpts) ([]event.Event, error) {
	query := "SELECT * FROM events WHERE ts_detected >= ? AND score >= ?"
	args := []any{opts.SinceMs, opts.MinScore}

	if opts.ByScore {
		query += " ORDER BY score DESC, ts_detected DESC"
	} else {
		query += " ORDER BY ts_detected DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var events []event.Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}

	for i := range events {
		events[i].Expand()
	}
	return events, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
