package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/executor"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const runsTable = "generation_runs"

var runColumns = []string{
	"run_id",
	"status",
	"error_code",
	"error_message",
	"output_url",
	"output_mime",
	"output_size_bytes",
	"created_at",
	"updated_at",
}

var ErrRunNotFound = errors.New("generation run not found")

// DB is the minimal database interface StatusRepo depends on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunStatus is a row of generation_runs.
type RunStatus struct {
	RunID           string    `db:"run_id"`
	Status          string    `db:"status"`
	ErrorCode       *string   `db:"error_code"`
	ErrorMessage    *string   `db:"error_message"`
	OutputURL       *string   `db:"output_url"`
	OutputMIME      *string   `db:"output_mime"`
	OutputSizeBytes int       `db:"output_size_bytes"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// StatusRepo persists run status transitions. It implements executor.StatusSink.
type StatusRepo struct {
	db DB
}

var _ executor.StatusSink = (*StatusRepo)(nil)

func NewStatusRepo(db DB) *StatusRepo {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) upsert(ctx context.Context, runID core.ID, values map[string]any) error {
	columns := []string{"run_id"}
	args := []any{runID.String()}
	set := ""
	for _, col := range runColumns[1:7] {
		v, ok := values[col]
		if !ok {
			continue
		}
		columns = append(columns, col)
		args = append(args, v)
		set += fmt.Sprintf("%s = EXCLUDED.%s, ", col, col)
	}
	columns = append(columns, "updated_at")
	args = append(args, squirrel.Expr("now()"))
	query, qargs, err := squirrel.Insert(runsTable).
		Columns(columns...).
		Values(args...).
		Suffix("ON CONFLICT (run_id) DO UPDATE SET " + set + "updated_at = now()").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, qargs...); err != nil {
		return fmt.Errorf("executing upsert: %w", err)
	}
	return nil
}

func (r *StatusRepo) MarkProcessing(ctx context.Context, runID core.ID) error {
	return r.upsert(ctx, runID, map[string]any{
		"status":        executor.StatusProcessing.String(),
		"error_code":    nil,
		"error_message": nil,
	})
}

func (r *StatusRepo) MarkCompleted(ctx context.Context, runID core.ID, c executor.Completion) error {
	return r.upsert(ctx, runID, map[string]any{
		"status":            executor.StatusCompleted.String(),
		"output_url":        c.OutputURL,
		"output_mime":       c.MIME,
		"output_size_bytes": c.SizeBytes,
	})
}

func (r *StatusRepo) MarkFailed(ctx context.Context, runID core.ID, code, message string) error {
	return r.upsert(ctx, runID, map[string]any{
		"status":        executor.StatusFailed.String(),
		"error_code":    code,
		"error_message": message,
	})
}

// Get returns the stored status of runID or ErrRunNotFound.
func (r *StatusRepo) Get(ctx context.Context, runID core.ID) (*RunStatus, error) {
	query, args, err := squirrel.Select(runColumns...).
		From(runsTable).
		Where(squirrel.Eq{"run_id": runID.String()}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var row RunStatus
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scanning run status: %w", err)
	}
	return &row, nil
}

// ListByStatus returns the runs currently in status, most recently updated first.
func (r *StatusRepo) ListByStatus(ctx context.Context, status executor.Status, limit uint64) ([]*RunStatus, error) {
	sb := squirrel.Select(runColumns...).
		From(runsTable).
		Where(squirrel.Eq{"status": status.String()}).
		OrderBy("updated_at DESC").
		PlaceholderFormat(squirrel.Dollar)
	if limit > 0 {
		sb = sb.Limit(limit)
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*RunStatus
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning run statuses: %w", err)
	}
	return rows, nil
}
