// Package store defines storage interfaces for persisting and retrieving
// historical bars and engine run records, with Parquet and SQLite backends.
package store

import (
	"context"
	"time"

	"backlab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunStore persists and retrieves engine run records.
type RunStore interface {
	// SaveRun inserts a new run record into storage.
	SaveRun(ctx context.Context, rec *domain.RunRecord) error

	// GetRun retrieves a single run record by its ID.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns the most recent runs of the given kind, newest
	// first, up to limit. An empty kind matches all runs.
	ListRuns(ctx context.Context, kind domain.RunKind, limit int) ([]domain.RunRecord, error)
}
