// Package journal records answered questions in SQLite so a session's
// history can be listed later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

var errNotOpened = errors.New("journal not opened")

// Entry is one answered question.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Success     bool      `json:"success"`
	Code        string    `json:"code,omitempty"`
	ChartType   string    `json:"chart_type,omitempty"`
	RowCount    int       `json:"row_count"`
	ExecutionMS float64   `json:"execution_time_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists entries.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := New(db, logger)
	s.logger.Debug("journal opened", "path", path)
	return s, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores e, assigning an id and timestamp when absent.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if s.db == nil {
		return errNotOpened
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, session_id, question, answer, success, code, chart_type, row_count, execution_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Question, e.Answer, e.Success,
		nullString(e.Code), nullString(e.ChartType),
		e.RowCount, e.ExecutionMS, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}

	s.logger.Debug("journal entry recorded", "id", e.ID, "session", e.SessionID, "success", e.Success)
	return nil
}

// History returns up to limit entries of a session, newest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, question, answer, success, code, chart_type, row_count, execution_ms, created_at
		 FROM entries WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*Entry{}
	for rows.Next() {
		e := &Entry{}
		var code, chart sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Question, &e.Answer, &e.Success,
			&code, &chart, &e.RowCount, &e.ExecutionMS, &created); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Code = code.String
		e.ChartType = chart.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSession removes every entry of a session and returns how many went.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	if s.db == nil {
		return 0, errNotOpened
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete journal entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
