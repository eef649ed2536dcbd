// Package history keeps a volatile log of RESULT reports received by the
// display node. The database is in-memory and disappears with the process.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"
)

//go:embed sql/insert-result.sql
var insertResultSQL string

//go:embed sql/get-latest-results.sql
var getLatestResultsSQL string

//go:embed sql/get-results-count.sql
var getResultsCountSQL string

//go:embed sql/prune-results.sql
var pruneResultsSQL string

// Entry is one received RESULT report.
type Entry struct {
	ID             int64     `json:"id"`
	ReceivedAt     time.Time `json:"received_at"`
	From           string    `json:"from"`
	ElapsedSeconds float32   `json:"elapsed_s"`
	SpeedKmh       float32   `json:"speed_kmh"`
	SenderMs       uint32    `json:"sender_ms"`
	ViewMode       string    `json:"view_mode"`
	EnergyJoules   float32   `json:"energy_joules"`
}

type Repository interface {
	Insert(ctx context.Context, e Entry) (int64, error)
	Latest(ctx context.Context, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	// Prune keeps the newest keep entries and returns how many were removed.
	Prune(ctx context.Context, keep int) (int64, error)
}

type repositoryImpl struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &repositoryImpl{db: db, logger: logger}
}

func (r *repositoryImpl) Insert(ctx context.Context, e Entry) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertResultSQL,
		e.ReceivedAt.UTC().Format(time.RFC3339Nano),
		e.From,
		e.ElapsedSeconds,
		e.SpeedKmh,
		int64(e.SenderMs),
		e.ViewMode,
		e.EnergyJoules,
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return res.LastInsertId()
}

func (r *repositoryImpl) Latest(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, getLatestResultsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close results rows", "error", err)
		}
	}()

	out := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			ts       string
			senderMs int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.From, &e.ElapsedSeconds, &e.SpeedKmh, &senderMs, &e.ViewMode, &e.EnergyJoules); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", ts, err)
		}
		e.ReceivedAt = t
		e.SenderMs = uint32(senderMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getResultsCountSQL).Scan(&n)
	return n, err
}

func (r *repositoryImpl) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneResultsSQL, keep)
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return res.RowsAffected()
}
