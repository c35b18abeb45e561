// Package specstore keeps OpenAPI documents in Postgres so a deployment can
// load its catalog without a file on disk.
package specstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrSpecNotFound is returned when no active spec has the requested name.
var ErrSpecNotFound = errors.New("spec not found")

const createTable = `
CREATE TABLE IF NOT EXISTS openapi_specs (
	name VARCHAR(255) PRIMARY KEY,
	spec_content TEXT NOT NULL,
	file_format VARCHAR(10) NOT NULL DEFAULT 'yaml',
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMP(6) NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_openapi_specs_is_active ON openapi_specs(is_active);
`

const upsertSpec = `
INSERT INTO openapi_specs (name, spec_content, file_format, is_active)
VALUES ($1, $2, $3, true)
ON CONFLICT (name) DO UPDATE
SET spec_content = EXCLUDED.spec_content,
	file_format = EXCLUDED.file_format,
	is_active = true,
	updated_at = NOW()`

const selectSpec = `SELECT spec_content FROM openapi_specs WHERE name = $1 AND is_active = true`

const listSpecs = `SELECT name, file_format, is_active, updated_at FROM openapi_specs ORDER BY name`

// Summary describes a stored spec without its content.
type Summary struct {
	Name      string
	Format    string
	Active    bool
	UpdatedAt time.Time
}

// Store reads and writes specs in the openapi_specs table.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection. dsn may be a
// postgres:// URL or a lib/pq key=value string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the specs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create openapi_specs table: %w", err)
	}
	return nil
}

// Load returns the content of the active spec called name.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	var content string
	err := s.db.QueryRowContext(ctx, selectSpec, name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load spec %s: %w", name, err)
	}
	return []byte(content), nil
}

// Save inserts or replaces the spec called name and marks it active.
func (s *Store) Save(ctx context.Context, name, format string, content []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSpec, name, string(content), format); err != nil {
		return fmt.Errorf("failed to save spec %s: %w", name, err)
	}
	return nil
}

// List returns every stored spec ordered by name.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, listSpecs)
	if err != nil {
		return nil, fmt.Errorf("failed to list specs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Name, &sum.Format, &sum.Active, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spec row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
