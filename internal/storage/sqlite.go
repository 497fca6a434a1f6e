package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const createArtifactsTable = `
CREATE TABLE IF NOT EXISTS artifacts (
    name TEXT PRIMARY KEY,
    content_type TEXT NOT NULL DEFAULT '',
    data BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);`

// SQLiteStorage keeps each artifact as a row in a local database file
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

var _ StorageInterface = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database and its artifacts table.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(createArtifactsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create artifacts table: %w", err)
	}

	logrus.Infof("Connected to artifact database at %s", dbPath)
	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Store upserts an artifact row.
func (s *SQLiteStorage) Store(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO artifacts (name, content_type, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET content_type = excluded.content_type, data = excluded.data, updated_at = excluded.updated_at`,
		name, contentType, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", name, err)
	}
	logrus.Infof("Stored %s (%d bytes) in %s", name, len(data), s.path)
	return nil
}

// Retrieve returns an artifact's bytes.
func (s *SQLiteStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return data, nil
}

// List returns artifact names with the prefix, sorted.
func (s *SQLiteStorage) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM artifacts WHERE ? = '' OR instr(name, ?) = 1 ORDER BY name`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan artifact name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes an artifact row.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return nil
}

// Location identifies the row.
func (s *SQLiteStorage) Location(name string) string {
	return fmt.Sprintf("sqlite://%s#%s", s.path, name)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
