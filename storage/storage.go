// Package storage persists subscriptions and slot snapshots in SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dmv-notifier/pkg/notifier"

	"github.com/codeGROOVE-dev/retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var Schema string

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound checks if an error means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Timestamps are stored as zoneless ISO text in the site's time zone, the
// form the subscription API writes into the same tables.
const (
	timeLayout   = "2006-01-02T15:04:05.000000"
	naiveLayout  = "2006-01-02T15:04:05.999999999"
	sqliteLayout = "2006-01-02 15:04:05.999999999"
)

func (s *Store) formatTime(t time.Time) string {
	return t.In(s.loc).Format(timeLayout)
}

// parseTime reads stored timestamps. Text without a zone is local to the
// store's location. Results are returned in UTC.
func (s *Store) parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(naiveLayout, v, s.loc)
	if err != nil {
		var err2 error
		if t, err2 = time.ParseInLocation(sqliteLayout, v, s.loc); err2 != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

// Store handles subscription and snapshot persistence.
type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path in WAL mode and applies the
// schema. loc is the zone of stored timestamps; nil means time.Local.
func Open(ctx context.Context, path string, loc *time.Location, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("Database initialized", "path", path)
	return New(db, loc, logger), nil
}

// New wraps an existing database handle. The schema must already be applied.
func New(db *sql.DB, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc, logger: logger, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const subscriptionColumns = `user_id, push_subscription, categories, locations, date_range_days,
	created_at, updated_at, last_notification_sent`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSubscription(row scanner) (*notifier.Subscription, error) {
	var (
		sub                   notifier.Subscription
		categories, locations string
		dateRange             sql.NullInt64
		createdAt, updatedAt  string
		lastSent              sql.NullString
	)
	if err := row.Scan(&sub.UserID, &sub.PushSubscription, &categories, &locations, &dateRange,
		&createdAt, &updatedAt, &lastSent); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(categories), &sub.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(locations), &sub.Locations); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	sub.DateRangeDays = 30
	if dateRange.Valid {
		sub.DateRangeDays = int(dateRange.Int64)
	}
	var err error
	if sub.CreatedAt, err = s.parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sub.UpdatedAt, err = s.parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastSent.Valid && lastSent.String != "" {
		t, err := s.parseTime(lastSent.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_notification_sent: %w", err)
		}
		sub.LastNotificationSent = &t
	}
	return &sub, nil
}

// GetSubscription loads one subscription.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*notifier.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
	sub, err := s.scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", userID, err)
	}
	return sub, nil
}

// ListSubscriptions loads all subscriptions. Rows that cannot be decoded
// are skipped with a warning.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*notifier.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*notifier.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			s.logger.Warn("Skipping malformed subscription row", "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	s.logger.Debug("Listed subscriptions", "count", len(subs))
	return subs, nil
}

// UpsertSubscription creates or replaces a subscription. created_at is
// kept from the existing row.
func (s *Store) UpsertSubscription(ctx context.Context, userID, pushDescriptor string, categories, locations []string, dateRangeDays int) (*notifier.Subscription, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	cats, err := json.Marshal(nonNil(categories))
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	locs, err := json.Marshal(nonNil(locations))
	if err != nil {
		return nil, fmt.Errorf("encode locations: %w", err)
	}

	now := s.formatTime(s.now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions
			(user_id, push_subscription, categories, locations, date_range_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			push_subscription = excluded.push_subscription,
			categories = excluded.categories,
			locations = excluded.locations,
			date_range_days = excluded.date_range_days,
			updated_at = excluded.updated_at`,
		userID, pushDescriptor, string(cats), string(locs), dateRangeDays, now, now); err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", userID, err)
	}

	s.logger.Info("Subscription saved", "user_id", userID, "categories", len(categories), "locations", len(locations))
	return s.GetSubscription(ctx, userID)
}

// DeleteSubscription removes a subscription and reports whether it existed.
func (s *Store) DeleteSubscription(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete subscription %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription %s: %w", userID, err)
	}
	return n > 0, nil
}

// PurgeSubscriptionsOlderThan deletes subscriptions created more than maxAge
// ago. Ages are compared after parsing, since rows written by other tools
// do not share one text format. Rows with unreadable created_at are kept.
func (s *Store) PurgeSubscriptionsOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	stale, err := s.createdBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge subscriptions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("purge subscriptions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM subscriptions WHERE user_id = ? AND created_at = ?`)
	if err != nil {
		return 0, fmt.Errorf("purge subscriptions: %w", err)
	}
	defer stmt.Close()

	removed := 0
	for _, row := range stale {
		res, err := stmt.ExecContext(ctx, row.userID, row.createdAt)
		if err != nil {
			return 0, fmt.Errorf("purge subscription %s: %w", row.userID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("purge subscriptions: %w", err)
	}

	if removed > 0 {
		s.logger.Info("Removed outdated subscriptions", "count", removed, "max_age", maxAge.String())
	}
	return removed, nil
}

type createdRow struct {
	userID    string
	createdAt string
}

func (s *Store) createdBefore(ctx context.Context, cutoff time.Time) ([]createdRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, created_at FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []createdRow
	for rows.Next() {
		var r createdRow
		if err := rows.Scan(&r.userID, &r.createdAt); err != nil {
			return nil, err
		}
		created, err := s.parseTime(r.createdAt)
		if err != nil {
			s.logger.Warn("Subscription has unreadable created_at, keeping it", "user_id", r.userID, "error", err)
			continue
		}
		if created.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, rows.Err()
}

// CountSubscriptions returns the number of stored subscriptions.
func (s *Store) CountSubscriptions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

// MarkNotified records that a notification was just sent to userID.
func (s *Store) MarkNotified(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notification_sent = ? WHERE user_id = ?`,
		s.formatTime(s.now()), userID)
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// WriteSnapshot zeroes the count of every location for the category, then
// sets the counts in summaries. Both steps commit together.
func (s *Store) WriteSnapshot(ctx context.Context, categoryKey string, locations []string, summaries []notifier.LocationSlotSummary) error {
	stamp := s.formatTime(s.now())
	err := retry.Do(
		func() error {
			return s.writeSnapshot(ctx, categoryKey, locations, summaries, stamp)
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(isBusy),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("Database busy, retrying snapshot write", "category", categoryKey, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("write snapshot for %s: %w", categoryKey, err)
	}
	s.logger.Debug("Snapshot written", "category", categoryKey, "locations", len(locations), "with_slots", len(summaries))
	return nil
}

func (s *Store) writeSnapshot(ctx context.Context, categoryKey string, locations []string, summaries []notifier.LocationSlotSummary, stamp string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsert = `
		INSERT INTO last_check (category, location_name, has_slots, last_checked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(category, location_name) DO UPDATE SET
			has_slots = excluded.has_slots,
			last_checked = excluded.last_checked`

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, loc := range locations {
		if _, err = stmt.ExecContext(ctx, categoryKey, loc, 0, stamp); err != nil {
			return err
		}
	}
	for _, sum := range summaries {
		if _, err = stmt.ExecContext(ctx, categoryKey, sum.Location, sum.SlotCount, stamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReadSnapshot returns every snapshot row ordered by location, then category.
func (s *Store) ReadSnapshot(ctx context.Context) ([]notifier.SnapshotEntry, error) {
	return s.readSnapshot(ctx, `
		SELECT category, location_name, has_slots, last_checked
		FROM last_check
		ORDER BY location_name, category`)
}

// ReadLocationsWithSlots returns snapshot rows with at least one slot.
func (s *Store) ReadLocationsWithSlots(ctx context.Context) ([]notifier.SnapshotEntry, error) {
	entries, err := s.readSnapshot(ctx, `
		SELECT category, location_name, has_slots, last_checked
		FROM last_check
		WHERE has_slots > 0`)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Location != entries[j].Location {
			return entries[i].Location < entries[j].Location
		}
		return entries[i].CategoryKey < entries[j].CategoryKey
	})
	return entries, nil
}

func (s *Store) readSnapshot(ctx context.Context, query string) ([]notifier.SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	var entries []notifier.SnapshotEntry
	for rows.Next() {
		var (
			e     notifier.SnapshotEntry
			stamp string
		)
		if err := rows.Scan(&e.CategoryKey, &e.Location, &e.HasSlots, &stamp); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if e.LastChecked, err = s.parseTime(stamp); err != nil {
			s.logger.Warn("Snapshot row has bad timestamp", "category", e.CategoryKey, "location", e.Location, "error", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return entries, nil
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
