package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/tether/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed durable action store. It survives
// process restarts and tolerates being reopened across runs without
// data loss; the schema is managed by explicit goose migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append persists a queued action. The single INSERT is its own
// transaction, so a crash either keeps the whole record or none of it.
func (s *SQLiteStore) Append(ctx context.Context, action types.QueuedAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_actions (id, method, target, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, action.ID, action.Method, action.Target, []byte(action.Body), action.EnqueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// OldestFirst returns up to limit actions in enqueue order. Because IDs
// are ULIDs, ordering by ID yields enqueue order.
func (s *SQLiteStore) OldestFirst(ctx context.Context, limit int) ([]types.QueuedAction, error) {
	query := `
		SELECT id, method, target, body, enqueued_at
		FROM queued_actions
		ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []types.QueuedAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

// Delete removes a single action by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM queued_actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear unconditionally empties the store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM queued_actions"); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}

// Count returns the number of queued actions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queued_actions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return count, nil
}

// scanAction scans a row into a QueuedAction, parsing the stored timestamp.
func scanAction(scanner interface{ Scan(...any) error }) (*types.QueuedAction, error) {
	var action types.QueuedAction
	var body []byte
	var enqueuedAt string

	if err := scanner.Scan(&action.ID, &action.Method, &action.Target, &body, &enqueuedAt); err != nil {
		return nil, fmt.Errorf("scan action: %w", err)
	}

	action.Body = body
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at for action %s: %w", action.ID, err)
	}
	action.EnqueuedAt = t
	return &action, nil
}
