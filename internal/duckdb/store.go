// Package duckdb persists analysis reports in DuckDB (queryable, append-only).
package duckdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection for the report archive.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Path returns the database path, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureSchema creates tables if they don't exist.
// The summary columns are denormalized from report_json for querying.
func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS reports (
		analysis_id VARCHAR PRIMARY KEY,
		patient_id VARCHAR,
		drug VARCHAR,
		created_at TIMESTAMP,
		primary_gene VARCHAR,
		diplotype VARCHAR,
		phenotype VARCHAR,
		risk_label VARCHAR,
		risk_score DOUBLE,
		severity VARCHAR,
		evidence_level VARCHAR,
		guideline_version VARCHAR,
		variant_count BIGINT,
		report_json VARCHAR
	)`)
	return err
}
