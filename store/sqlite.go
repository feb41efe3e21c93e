package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/store/migrations"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a local SQLite database.
// Live queries only see writes made through the same SQLite value.
type SQLite struct {
	db  *sql.DB
	n   *notifier
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the embedded migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	return NewSQLite(db), nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{logger.Sugar})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, n: newNotifier(), now: time.Now}
}

func (s *SQLite) Create(ctx context.Context, userID string, doc Document) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, file_name, content, original_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, doc.FileName, doc.Content, doc.OriginalURL, s.now().UTC().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}
	s.n.notify(userID)
	return id, nil
}

func (s *SQLite) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrNoUser
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	s.n.notify(userID)
	return nil
}

func (s *SQLite) Watch(ctx context.Context, userID string) (Snapshots, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	return newLocalSnapshots(ctx, s.n, userID, func(ctx context.Context) ([]Document, error) {
		return s.list(ctx, userID)
	}), nil
}

func (s *SQLite) list(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, content, original_url, created_at FROM documents WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var created sql.NullInt64
		if err := rows.Scan(&d.ID, &d.FileName, &d.Content, &d.OriginalURL, &created); err != nil {
			return nil, err
		}
		if created.Valid {
			d.CreatedAt = time.UnixMilli(created.Int64).UTC()
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// gooseLogger routes goose output to the debug log.
type gooseLogger struct {
	s interface {
		Debugf(template string, args ...interface{})
		Fatalf(template string, args ...interface{})
	}
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }
