// Package history keeps recent dictations in a SQLite database so clients
// can review and copy earlier results.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultMaxEntries is the retention limit used when none is configured.
const DefaultMaxEntries = 500

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("history: entry not found")

// Entry is one stored dictation.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	RawText   string    `json:"raw_text"`
	Language  string    `json:"language,omitempty"`
	SpeakerID string    `json:"speaker_id,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries sets the retention limit. Values ≤ 0 keep DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is a SQLite-backed dictation history. It is safe for concurrent use.
type Store struct {
	db         *sql.DB
	maxEntries int
	log        *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps an in-memory
	// database from being split across pool connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, maxEntries: DefaultMaxEntries, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entries (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			text       TEXT NOT NULL,
			raw_text   TEXT NOT NULL DEFAULT '',
			language   TEXT NOT NULL DEFAULT '',
			speaker_id TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("history: create entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at)`,
	); err != nil {
		return fmt.Errorf("history: create created_at index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Add stores e and trims the history to the retention limit. A missing ID or
// timestamp is filled in; the stored entry is returned.
func (s *Store) Add(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (id, created_at, text, raw_text, language, speaker_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Text, e.RawText, e.Language, e.SpeakerID,
	); err != nil {
		return Entry{}, fmt.Errorf("history: insert entry: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM entries WHERE seq NOT IN (
			SELECT seq FROM entries ORDER BY created_at DESC, seq DESC LIMIT ?
		)`, s.maxEntries)
	if err != nil {
		return Entry{}, fmt.Errorf("history: trim entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("history: commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("history trimmed", "removed", n, "max_entries", s.maxEntries)
	}
	return e, nil
}

// List returns entries newest first. limit ≤ 0 returns all entries.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, text, raw_text, language, speaker_id
		FROM entries
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history: query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one entry or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, text, raw_text, language, speaker_id
		FROM entries WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Delete removes one entry. It returns ErrNotFound if no entry has id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("history: delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: delete entry: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("history: clear: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e  Entry
		ns int64
	)
	if err := r.Scan(&e.ID, &ns, &e.Text, &e.RawText, &e.Language, &e.SpeakerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("history: scan entry: %w", err)
	}
	e.Timestamp = time.Unix(0, ns).UTC()
	return e, nil
}
