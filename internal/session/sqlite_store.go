package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var _ Recorder = (*SQLiteStore)(nil)

// SQLiteStore keeps a history of sessions in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Record is a persisted session snapshot.
type Record struct {
	ID           string    `json:"id"`
	Proxy        string    `json:"proxy"`
	State        string    `json:"state"`
	RefreshCount int       `json:"refreshCount"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	StoppedAt    time.Time `json:"stoppedAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewSQLiteStore opens (or creates) the history database at dbPath.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	var connStr string
	isMemory := dbPath == ":memory:"

	if isMemory {
		connStr = ":memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("session history store initialized", "path", dbPath, "in_memory", isMemory)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		proxy TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		refresh_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		stopped_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record upserts the current state of a session. It implements Recorder.
func (s *SQLiteStore) Record(ctx context.Context, sess *Session) error {
	errText := ""
	if sess.Err != nil {
		errText = sess.Err.Error()
	}
	stoppedAt := ""
	if !sess.StoppedAt.IsZero() {
		stoppedAt = sess.StoppedAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
	INSERT INTO sessions (id, proxy, state, refresh_count, error, started_at, stopped_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		refresh_count = excluded.refresh_count,
		error = excluded.error,
		stopped_at = excluded.stopped_at,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.ProxyString(),
		sess.State.String(),
		sess.RefreshCount,
		errText,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		stoppedAt,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("session recorded", "id", sess.ID, "state", sess.State)
	return nil
}

// Load returns the record for id, or nil if it does not exist.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, proxy, state, refresh_count, error, started_at, stopped_at, updated_at
	FROM sessions WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, proxy, state, refresh_count, error, started_at, stopped_at, updated_at
	FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec                             Record
		startedAt, stoppedAt, updatedAt string
	)
	if err := sc.Scan(&rec.ID, &rec.Proxy, &rec.State, &rec.RefreshCount, &rec.Error, &startedAt, &stoppedAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if stoppedAt != "" {
		rec.StoppedAt, _ = time.Parse(time.RFC3339Nano, stoppedAt)
	}
	return &rec, nil
}
