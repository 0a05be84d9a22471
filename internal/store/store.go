// Package store implements the content-addressed record store backing
// feed monitors: a SQLite table keyed by (uid, hashsum), used for
// dedup/"is new" decisions, update tracking, and priming.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a SQLite connection holding the content-addressed records
// table: records(parsed_at, feed_name, uid, hashsum, class_name, as_json),
// primary keyed on (uid, hashsum).
type Store struct {
	db *sql.DB
}

// Row is one stored record version.
type Row struct {
	ParsedAt  time.Time
	FeedName  string
	UID       string
	Hashsum   string
	ClassName string
	AsJSON    string
}

// Open creates or opens the SQLite database at path (":memory:" keeps it
// in RAM, matching the source's `:memory:` special case for a clean
// database on every startup) and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			parsed_at  DATETIME NOT NULL,
			feed_name  TEXT NOT NULL,
			uid        TEXT NOT NULL,
			hashsum    TEXT NOT NULL,
			class_name TEXT NOT NULL,
			as_json    TEXT NOT NULL,
			PRIMARY KEY (uid, hashsum)
		);
		CREATE INDEX IF NOT EXISTS idx_records_feed_name ON records(feed_name);
		CREATE INDEX IF NOT EXISTS idx_records_uid ON records(uid);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Store inserts rows, ignoring any whose (uid, hashsum) pair already
// exists — a (uid, hashsum) pair is stored at most once.
func (s *Store) Store(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO records (parsed_at, feed_name, uid, hashsum, class_name, as_json) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.ParsedAt.UTC(), r.FeedName, r.UID, r.Hashsum, r.ClassName, r.AsJSON); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert %s: %w", r.UID, err)
		}
	}
	return tx.Commit()
}

// FetchRow returns the newest matching row for uid (and, if given,
// hashsum), by parsed_at. Returns (Row{}, false) if nothing matches.
func (s *Store) FetchRow(uid string, hashsum string) (Row, bool, error) {
	query := `SELECT parsed_at, feed_name, uid, hashsum, class_name, as_json FROM records WHERE uid = ?`
	args := []any{uid}
	if hashsum != "" {
		query += ` AND hashsum = ?`
		args = append(args, hashsum)
	}
	query += ` ORDER BY parsed_at DESC LIMIT 1`

	var r Row
	err := s.db.QueryRow(query, args...).Scan(&r.ParsedAt, &r.FeedName, &r.UID, &r.Hashsum, &r.ClassName, &r.AsJSON)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("store: fetch row for %s: %w", uid, err)
	}
	return r, true, nil
}

// RowExists reports whether any version of uid (optionally constrained to
// a specific hashsum) was ever stored.
func (s *Store) RowExists(uid string, hashsum string) (bool, error) {
	query := `SELECT 1 FROM records WHERE uid = ?`
	args := []any{uid}
	if hashsum != "" {
		query += ` AND hashsum = ?`
		args = append(args, hashsum)
	}
	query += ` LIMIT 1`

	var one int
	err := s.db.QueryRow(query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: row exists for %s: %w", uid, err)
	}
	return true, nil
}

// Prune deletes stored row versions older than cutoff, except each uid's
// single newest row — pruning the newest version would make a previously
// seen record look brand new on the next poll. It returns the number of
// rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM records
		WHERE parsed_at < ?
		AND (uid, parsed_at) NOT IN (
			SELECT uid, MAX(parsed_at) FROM records GROUP BY uid
		)
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return result.RowsAffected()
}

// Size returns the number of stored rows, optionally scoped to a single
// feed_name.
func (s *Store) Size(feedName string) (int, error) {
	query := `SELECT COUNT(*) FROM records`
	args := []any{}
	if feedName != "" {
		query += ` WHERE feed_name = ?`
		args = append(args, feedName)
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: size: %w", err)
	}
	return n, nil
}
