// Package store persists thread metadata.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// ErrNotFound is returned for threads that do not exist, were deleted or
// belong to another user.
var ErrNotFound = fmt.Errorf("thread %w", agenterr.ErrNotFound)

// ThreadStore persists threads scoped by tenant and owner.
type ThreadStore interface {
	Create(ctx context.Context, thread *model.Thread) error
	Get(ctx context.Context, tenantID, userID, id string) (*model.Thread, error)
	List(ctx context.Context, tenantID, userID string, limit, offset int) ([]model.Thread, int, error)
	UpdateTitle(ctx context.Context, tenantID, userID, id, title string) (*model.Thread, error)
	Touch(ctx context.Context, tenantID, id string) error
	Delete(ctx context.Context, tenantID, userID, id string) error
}

// SQLiteThreadStore implements ThreadStore using SQLite.
type SQLiteThreadStore struct {
	db *sql.DB
}

var _ ThreadStore = (*SQLiteThreadStore)(nil)

// NewSQLiteThreadStore opens the database and creates the schema.
func NewSQLiteThreadStore(dsn string) (*SQLiteThreadStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteThreadStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteThreadStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(tenant_id, user_id, updated_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Ping checks the database.
func (s *SQLiteThreadStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteThreadStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteThreadStore) Create(ctx context.Context, t *model.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, tenant_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.UserID, t.Title, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

func (s *SQLiteThreadStore) Get(ctx context.Context, tenantID, userID, id string) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, tenant_id, user_id, title, created_at, updated_at
		 FROM threads WHERE thread_id = ? AND tenant_id = ? AND user_id = ? AND deleted = 0`,
		id, tenantID, userID)

	var t model.Thread
	err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread: %w", err)
	}
	return &t, nil
}

// List returns a page of the owner's threads, most recently active first,
// together with the total count.
func (s *SQLiteThreadStore) List(ctx context.Context, tenantID, userID string, limit, offset int) ([]model.Thread, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE tenant_id = ? AND user_id = ? AND deleted = 0`,
		tenantID, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, tenant_id, user_id, title, created_at, updated_at
		 FROM threads WHERE tenant_id = ? AND user_id = ? AND deleted = 0
		 ORDER BY updated_at DESC, thread_id LIMIT ? OFFSET ?`,
		tenantID, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	threads := []model.Thread{}
	for rows.Next() {
		var t model.Thread
		if err := rows.Scan(&t.ID, &t.TenantID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, total, rows.Err()
}

func (s *SQLiteThreadStore) UpdateTitle(ctx context.Context, tenantID, userID, id, title string) (*model.Thread, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE thread_id = ? AND tenant_id = ? AND user_id = ? AND deleted = 0`,
		title, time.Now().UTC(), id, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, tenantID, userID, id)
}

// Touch bumps the activity time of a thread.
func (s *SQLiteThreadStore) Touch(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE thread_id = ? AND tenant_id = ?`,
		time.Now().UTC(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	return nil
}

// Delete soft deletes a thread.
func (s *SQLiteThreadStore) Delete(ctx context.Context, tenantID, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET deleted = 1, updated_at = ? WHERE thread_id = ? AND tenant_id = ? AND user_id = ? AND deleted = 0`,
		time.Now().UTC(), id, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
