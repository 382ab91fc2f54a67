package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"backlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			strategy   TEXT NOT NULL DEFAULT '',
			symbol     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			params     TEXT NOT NULL,
			result     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_kind_created
			ON runs(kind, created_at DESC);
	`)
	return err
}

// SaveRun inserts a new run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, strategy, symbol, created_at, params, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Strategy, rec.Symbol,
		rec.CreatedAt.UnixMilli(), rec.Params, rec.Result,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", rec.ID, err)
	}
	return nil
}

// GetRun retrieves a single run record by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, strategy, symbol, created_at, params, result
		FROM runs WHERE id = ?`, id)

	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs of the given kind, newest first.
// An empty kind matches all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, kind domain.RunKind, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, strategy, symbol, created_at, params, result
		FROM runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var kind string
	var createdMs int64
	if err := row.Scan(&rec.ID, &kind, &rec.Strategy, &rec.Symbol, &createdMs, &rec.Params, &rec.Result); err != nil {
		return nil, err
	}
	rec.Kind = domain.RunKind(kind)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}
