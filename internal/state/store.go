// Package state records what the builder tells the driver between builds:
// source content hashes, class-to-source associations, import facts and
// every written output. It backs the DependencyGraph and OutputConsumer
// contracts with SQLite.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// DefaultPath is the state database location relative to the project root.
const DefaultPath = ".jbuild/state.db"

var errNotOpen = errors.New("database not opened")

var (
	_ core.DependencyGraph = (*SQLiteStore)(nil)
	_ core.OutputConsumer  = (*SQLiteStore)(nil)
)

// SQLiteStore is the SQLite-backed build state.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	session string
	// changed maps class file paths whose API hash changed since the last
	// ChunkCompiled of their chunk to the class's internal name.
	changed map[string]string
}

// Option configures a store.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		logger:  slog.New(slog.DiscardHandler),
		now:     func() time.Time { return time.Now().UTC() },
		changed: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database and applies pending migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := MigrateWithDB(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("state store opened", "path", path)
	return nil
}

// OpenDB wraps an existing connection without migrating it.
func (s *SQLiteStore) OpenDB(db *sql.DB) {
	s.db = db
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path given to Open.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Session is one recorded build.
type Session struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Error      string
}

// Session statuses.
const (
	SessionRunning   = "running"
	SessionSucceeded = "succeeded"
	SessionFailed    = "failed"
)

// BeginSession records the start of a build. An empty id gets a new UUID.
func (s *SQLiteStore) BeginSession(ctx context.Context, id string) (string, error) {
	if s.db == nil {
		return "", errNotOpen
	}
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, status) VALUES (?, ?, ?)`,
		id, s.now(), SessionRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to begin session: %w", err)
	}
	s.mu.Lock()
	s.session = id
	s.mu.Unlock()
	return id, nil
}

// FinishSession records the outcome of the current build.
func (s *SQLiteStore) FinishSession(ctx context.Context, buildErr error) error {
	if s.db == nil {
		return errNotOpen
	}
	s.mu.Lock()
	id := s.session
	s.mu.Unlock()
	if id == "" {
		return errors.New("no session in progress")
	}

	status, msg := SessionSucceeded, sql.NullString{}
	if buildErr != nil {
		status, msg = SessionFailed, sql.NullString{String: buildErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		s.now(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (s *SQLiteStore) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, error FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess     Session
			finished sql.NullTime
			msg      sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &finished, &sess.Status, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if finished.Valid {
			sess.FinishedAt = &finished.Time
		}
		sess.Error = msg.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errNotOpen
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
