package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eino_agent_router/pkg"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoint logs in a local SQLite database
type SQLiteStore struct {
	db     *sql.DB
	limit  int
	logger zerolog.Logger
}

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*SQLiteStore)

// WithSQLiteHistoryLimit retains only the newest limit checkpoints per thread
func WithSQLiteHistoryLimit(limit int) SQLiteOption {
	return func(s *SQLiteStore) { s.limit = limit }
}

// WithSQLiteLogger sets the store logger
func WithSQLiteLogger(logger zerolog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = logger }
}

// NewSQLiteStore opens the database at path, creating parent directories
// and the schema when missing. ":memory:" is accepted for tests.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("SQLite checkpoint store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			state BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, sequence)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the newest checkpoint of a thread
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*pkg.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, state, created_at FROM checkpoints
		WHERE thread_id = ? ORDER BY sequence DESC LIMIT 1`, threadID)

	cp, err := scanCheckpoint(threadID, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	return cp, nil
}

// Save appends a checkpoint. The sequence is computed inside the insert so
// concurrent writers never collide.
func (s *SQLiteStore) Save(ctx context.Context, threadID string, state pkg.WorkflowState) (*pkg.Checkpoint, error) {
	if err := ValidateState(threadID, state); err != nil {
		return nil, err
	}
	state.ThreadID = threadID

	data, err := sonic.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO checkpoints (thread_id, sequence, state, created_at)
		SELECT ?, COALESCE(MAX(sequence), 0) + 1, ?, ? FROM checkpoints WHERE thread_id = ?
		RETURNING sequence`, threadID, data, now, threadID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("inserting checkpoint: %w", err)
	}

	if s.limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE thread_id = ? AND sequence <= ?`,
			threadID, seq-int64(s.limit)); err != nil {
			return nil, fmt.Errorf("trimming checkpoints: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing checkpoint: %w", err)
	}

	return &pkg.Checkpoint{ThreadID: threadID, Sequence: seq, State: state, CreatedAt: now}, nil
}

// History returns up to limit newest checkpoints, oldest first
func (s *SQLiteStore) History(ctx context.Context, threadID string, limit int) ([]pkg.Checkpoint, error) {
	query := `SELECT sequence, state, created_at FROM checkpoints WHERE thread_id = ? ORDER BY sequence DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []pkg.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(threadID, rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	// newest first from the query, callers expect oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Delete removes every checkpoint of a thread
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	return nil
}

// List returns thread IDs in lexical order
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM checkpoints ORDER BY thread_id`)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(threadID string, row rowScanner) (*pkg.Checkpoint, error) {
	var (
		seq       int64
		data      []byte
		createdAt time.Time
	)
	if err := row.Scan(&seq, &data, &createdAt); err != nil {
		return nil, err
	}

	var state pkg.WorkflowState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &pkg.Checkpoint{ThreadID: threadID, Sequence: seq, State: state, CreatedAt: createdAt}, nil
}
