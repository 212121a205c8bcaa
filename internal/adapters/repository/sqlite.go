package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/muselab/aura/internal/domain/model"
)

//go:embed migrations/001_initial.sql
var initialMigration string

// SQLStore implements Store on sqlite. One writer, WAL mode; the claim
// transaction is what keeps concurrent batch workers disjoint.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens or creates the database at the given path.
func OpenSQL(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite does not support concurrent writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='events'
	`).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(initialMigration); err != nil {
			return fmt.Errorf("failed to run initial migration: %w", err)
		}
	}
	return nil
}

// transaction runs fn inside a transaction.
func (s *SQLStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	return nil
}

// AppendEvent adds one immutable event to the log.
func (s *SQLStore) AppendEvent(ctx context.Context, e model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, item_a, item_b, winner, rater, raw_value, high_weight, applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		e.EventID, string(e.Kind), e.ItemA, nullString(e.ItemB), nullString(e.WinnerID),
		e.RaterID, e.RawValue, boolInt(e.HighWeight), e.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *SQLStore) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Event
	for rows.Next() {
		var (
			e          model.Event
			kind       string
			itemB      sql.NullString
			winner     sql.NullString
			rawValue   sql.NullFloat64
			highWeight int
			applied    int
		)
		if err := rows.Scan(&e.EventID, &kind, &e.ItemA, &itemB, &winner,
			&e.RaterID, &rawValue, &highWeight, &applied, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		e.ItemB = itemB.String
		e.WinnerID = winner.String
		e.RawValue = rawValue.Float64
		e.HighWeight = highWeight != 0
		e.Applied = applied != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnappliedEvents returns an item's pending events in creation order.
func (s *SQLStore) UnappliedEvents(ctx context.Context, itemID string) ([]model.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, kind, item_a, item_b, winner, rater, raw_value, high_weight, applied, created_at
		FROM events
		WHERE (item_a = ? OR item_b = ?) AND applied = 0
		ORDER BY rowid
	`, itemID, itemID)
}

// RatingEventsForItem returns every rating event for an item in creation order.
func (s *SQLStore) RatingEventsForItem(ctx context.Context, itemID string) ([]model.Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, kind, item_a, item_b, winner, rater, raw_value, high_weight, applied, created_at
		FROM events
		WHERE item_a = ? AND kind = 'rating'
		ORDER BY rowid
	`, itemID)
}

// ApplyEvent persists item and rater states and marks the event applied,
// all in one transaction.
func (s *SQLStore) ApplyEvent(ctx context.Context, eventID string, items []model.Item, raters []model.Rater) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := upsertItem(ctx, tx, item); err != nil {
				return err
			}
		}
		for _, r := range raters {
			if err := upsertRater(ctx, tx, r); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE events SET applied = 1 WHERE id = ?`, eventID)
		if err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func upsertItem(ctx context.Context, tx *sql.Tx, item model.Item) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, mean, sigma, comparisons, signal_sum, signal_count, boosts, last_match_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mean = excluded.mean,
			sigma = excluded.sigma,
			comparisons = excluded.comparisons,
			signal_sum = excluded.signal_sum,
			signal_count = excluded.signal_count,
			boosts = excluded.boosts,
			last_match_at = excluded.last_match_at
	`,
		item.ID, item.Mean, item.Sigma, item.Comparisons,
		item.SignalSum, item.SignalCount, item.Boosts, nullTime(item.LastMatchAt),
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func upsertRater(ctx context.Context, tx *sql.Tx, r model.Rater) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO raters (id, count, mean, m2, reliability, reliability_samples)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			count = excluded.count,
			mean = excluded.mean,
			m2 = excluded.m2,
			reliability = excluded.reliability,
			reliability_samples = excluded.reliability_samples
	`,
		r.ID, r.Count, r.Mean, r.M2, r.Reliability, r.ReliabilitySamples,
	)
	if err != nil {
		return fmt.Errorf("upsert rater: %w", err)
	}
	return nil
}

// MarkDirty upserts a dirty entry with max-priority semantics. A
// currently claimed entry is flagged for another cycle instead of
// being re-queued under the claim holder.
func (s *SQLStore) MarkDirty(ctx context.Context, itemID string, priority int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dirty (item_id, priority, enqueued_at)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			priority = MAX(dirty.priority, excluded.priority),
			redirty = CASE WHEN dirty.claim_token IS NOT NULL THEN 1 ELSE dirty.redirty END
	`, itemID, priority, time.Now())
	if err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	return nil
}

// ClaimDirty atomically claims up to limit unclaimed entries for token.
func (s *SQLStore) ClaimDirty(ctx context.Context, token string, limit int) ([]model.DirtyEntry, error) {
	var claimed []model.DirtyEntry
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT item_id, priority, enqueued_at, attempts
			FROM dirty
			WHERE claim_token IS NULL
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT ?
		`, limit)
		if err != nil {
			return fmt.Errorf("select dirty: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var e model.DirtyEntry
			if err := rows.Scan(&e.ItemID, &e.Priority, &e.EnqueuedAt, &e.Attempts); err != nil {
				return fmt.Errorf("scan dirty: %w", err)
			}
			claimed = append(claimed, e)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now()
		for _, e := range claimed {
			res, err := tx.ExecContext(ctx, `
				UPDATE dirty SET claim_token = ?, claimed_at = ?, redirty = 0
				WHERE item_id = ? AND claim_token IS NULL
			`, token, now, e.ItemID)
			if err != nil {
				return fmt.Errorf("claim dirty: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrContention
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteDirty finishes a claimed entry: kept unclaimed when new
// events arrived during processing, deleted otherwise.
func (s *SQLStore) CompleteDirty(ctx context.Context, token, itemID string) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE dirty SET claim_token = NULL, claimed_at = NULL, redirty = 0, enqueued_at = ?
			WHERE item_id = ? AND claim_token = ? AND redirty = 1
		`, time.Now(), itemID, token)
		if err != nil {
			return fmt.Errorf("complete dirty: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			DELETE FROM dirty WHERE item_id = ? AND claim_token = ?
		`, itemID, token)
		if err != nil {
			return fmt.Errorf("complete dirty: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotClaimed
		}
		return nil
	})
}

// RequeueDirty releases a claimed entry back to the queue.
func (s *SQLStore) RequeueDirty(ctx context.Context, token, itemID string, priority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dirty
		SET claim_token = NULL, claimed_at = NULL, redirty = 0,
		    priority = ?, attempts = attempts + 1, enqueued_at = ?
		WHERE item_id = ? AND claim_token = ?
	`, priority, time.Now(), itemID, token)
	if err != nil {
		return fmt.Errorf("requeue dirty: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ReleaseClaims unclaims every entry still held by token.
func (s *SQLStore) ReleaseClaims(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dirty SET claim_token = NULL, claimed_at = NULL, redirty = 0
		WHERE claim_token = ?
	`, token)
	if err != nil {
		return fmt.Errorf("release claims: %w", err)
	}
	return nil
}

// DirtyBacklog returns the number of unclaimed dirty entries.
func (s *SQLStore) DirtyBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty WHERE claim_token IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dirty backlog: %w", err)
	}
	return n, nil
}

func scanItem(row interface{ Scan(...any) error }) (model.Item, error) {
	var (
		item        model.Item
		lastMatchAt sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Mean, &item.Sigma, &item.Comparisons,
		&item.SignalSum, &item.SignalCount, &item.Boosts, &lastMatchAt)
	if err != nil {
		return model.Item{}, err
	}
	item.LastMatchAt = lastMatchAt.Time
	return item, nil
}

// GetItem returns an item's rating state.
func (s *SQLStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mean, sigma, comparisons, signal_sum, signal_count, boosts, last_match_at
		FROM items WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return model.Item{}, ErrNotFound
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetItems returns the known items among ids.
func (s *SQLStore) GetItems(ctx context.Context, ids []string) ([]model.Item, error) {
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ListItems returns every tracked item.
func (s *SQLStore) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mean, sigma, comparisons, signal_sum, signal_count, boosts, last_match_at
		FROM items ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// HasItem reports whether an item has rating state.
func (s *SQLStore) HasItem(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has item: %w", err)
	}
	return n > 0, nil
}

// PutItem writes an item's rating state.
func (s *SQLStore) PutItem(ctx context.Context, item model.Item) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		return upsertItem(ctx, tx, item)
	})
}

// GetRater returns a rater's calibration state.
func (s *SQLStore) GetRater(ctx context.Context, id string) (model.Rater, error) {
	var r model.Rater
	err := s.db.QueryRowContext(ctx, `
		SELECT id, count, mean, m2, reliability, reliability_samples
		FROM raters WHERE id = ?
	`, id).Scan(&r.ID, &r.Count, &r.Mean, &r.M2, &r.Reliability, &r.ReliabilitySamples)
	if err == sql.ErrNoRows {
		return model.Rater{}, ErrNotFound
	}
	if err != nil {
		return model.Rater{}, fmt.Errorf("get rater: %w", err)
	}
	return r, nil
}

// PutRater writes a rater's calibration state.
func (s *SQLStore) PutRater(ctx context.Context, r model.Rater) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		return upsertRater(ctx, tx, r)
	})
}

// RatersForItem returns the raters with rating events for an item.
func (s *SQLStore) RatersForItem(ctx context.Context, itemID string) ([]model.Rater, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, count, mean, m2, reliability, reliability_samples
		FROM raters
		WHERE id IN (SELECT DISTINCT rater FROM events WHERE item_a = ? AND kind = 'rating')
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("raters for item: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Rater
	for rows.Next() {
		var r model.Rater
		if err := rows.Scan(&r.ID, &r.Count, &r.Mean, &r.M2, &r.Reliability, &r.ReliabilitySamples); err != nil {
			return nil, fmt.Errorf("scan rater: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPublished returns the published projection for an item.
func (s *SQLStore) GetPublished(ctx context.Context, itemID string) (model.PublishedScore, error) {
	var p model.PublishedScore
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, score, confidence, tier, published_at
		FROM published WHERE item_id = ?
	`, itemID).Scan(&p.ItemID, &p.Score, &p.Confidence, &p.Tier, &p.PublishedAt)
	if err == sql.ErrNoRows {
		return model.PublishedScore{}, ErrNotScored
	}
	if err != nil {
		return model.PublishedScore{}, fmt.Errorf("get published: %w", err)
	}
	return p, nil
}

// PublishScore writes the published projection for an item.
func (s *SQLStore) PublishScore(ctx context.Context, p model.PublishedScore) error {
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published (item_id, score, confidence, tier, published_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			score = excluded.score,
			confidence = excluded.confidence,
			tier = excluded.tier,
			published_at = excluded.published_at
	`, p.ItemID, p.Score, p.Confidence, p.Tier, p.PublishedAt)
	if err != nil {
		return fmt.Errorf("publish score: %w", err)
	}
	return nil
}

// GrowIdleSigma raises sigma for items idle since cutoff.
func (s *SQLStore) GrowIdleSigma(ctx context.Context, cutoff time.Time, growth, cap float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET sigma = MIN(sigma + ?, ?)
		WHERE sigma < ? AND (last_match_at IS NULL OR last_match_at < ?)
	`, growth, cap, cap, cutoff)
	if err != nil {
		return 0, fmt.Errorf("grow idle sigma: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ItemCount returns the number of items tracked.
func (s *SQLStore) ItemCount(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// RaterCount returns the number of raters tracked.
func (s *SQLStore) RaterCount(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raters`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
