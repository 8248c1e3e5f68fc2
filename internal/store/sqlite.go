package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/careerflow/internal/domain"
	"github.com/ashureev/careerflow/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode; the pragmas apply to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		state TEXT NOT NULL,
		kind TEXT NOT NULL,
		chunks INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		query_chars INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_turns_started ON turns(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordTurn stores a finished counselling turn, retrying on SQLITE_BUSY.
func (s *SQLiteStore) RecordTurn(ctx context.Context, turn *domain.TurnRecord) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	query := `
	INSERT INTO turns (
		id, session_id, user_id, message_id, state, kind,
		chunks, bytes, error_kind, query_chars, started_at, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		kind = excluded.kind,
		chunks = excluded.chunks,
		bytes = excluded.bytes,
		error_kind = excluded.error_kind,
		duration_ms = excluded.duration_ms`

	var errorKind interface{}
	if turn.ErrorKind != "" {
		errorKind = turn.ErrorKind
	}

	err := shared.RetryOnConflict(ctx, "record_turn", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			turn.ID, turn.SessionID, turn.UserID, turn.MessageID, turn.State, string(turn.Kind),
			turn.Chunks, turn.Bytes, errorKind, turn.QueryChars,
			turn.StartedAt.UnixMilli(), turn.DurationMS,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record turn %s: %w", turn.ID, err)
	}
	return nil
}

// ListTurns returns a session's turns, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]*domain.TurnRecord, error) {
	query := `
		SELECT id, session_id, user_id, message_id, state, kind,
		       chunks, bytes, error_kind, query_chars, started_at, duration_ms
		FROM turns WHERE session_id = ?
		ORDER BY started_at ASC, rowid ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	turns := []*domain.TurnRecord{}
	for rows.Next() {
		var turn domain.TurnRecord
		var kind string
		var errorKind sql.NullString
		var startedAt int64

		if err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.UserID, &turn.MessageID, &turn.State, &kind,
			&turn.Chunks, &turn.Bytes, &errorKind, &turn.QueryChars, &startedAt, &turn.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		turn.Kind = domain.Kind(kind)
		turn.ErrorKind = errorKind.String
		turn.StartedAt = time.UnixMilli(startedAt)
		turns = append(turns, &turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// CleanupExpiredTurns removes turns older than retention.
func (s *SQLiteStore) CleanupExpiredTurns(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	var deleted int64
	err := shared.RetryOnConflict(ctx, "cleanup_turns", writeAttempts, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE started_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired turns: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
