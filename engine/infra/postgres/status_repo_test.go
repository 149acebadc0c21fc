package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/executor"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *StatusRepo) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool, NewStatusRepo(mockPool)
}

func TestStatusRepo_Mark(t *testing.T) {
	t.Run("Should upsert the processing status and clear previous errors", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		runID := core.MustNewID()
		mockPool.ExpectExec(`INSERT INTO generation_runs \(run_id,status,error_code,error_message,updated_at\)`).
			WithArgs(runID.String(), "processing", nil, nil).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.MarkProcessing(context.Background(), runID)

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should store the delivery of a completed run", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		runID := core.MustNewID()
		mockPool.ExpectExec(`ON CONFLICT \(run_id\) DO UPDATE SET status = EXCLUDED.status, output_url = EXCLUDED.output_url`).
			WithArgs(runID.String(), "completed", "https://cdn/final.png", "image/png", 2048).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.MarkCompleted(context.Background(), runID, executor.Completion{
			OutputURL: "https://cdn/final.png",
			MIME:      "image/png",
			SizeBytes: 2048,
		})

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should store the failure code and message", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		runID := core.MustNewID()
		mockPool.ExpectExec("INSERT INTO generation_runs").
			WithArgs(runID.String(), "failed", core.ErrCodeTimeout, "AI generation timed out after 2m0s").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.MarkFailed(context.Background(), runID, core.ErrCodeTimeout, "AI generation timed out after 2m0s")

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should wrap database errors", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		mockPool.ExpectExec("INSERT INTO generation_runs").
			WillReturnError(errors.New("connection reset"))

		err := repo.MarkProcessing(context.Background(), core.MustNewID())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "executing upsert")
	})
}

func TestStatusRepo_Get(t *testing.T) {
	t.Run("Should return the stored run", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		runID := core.MustNewID()
		now := time.Now()
		url := "https://cdn/final.png"
		mime := "image/png"
		var noText *string
		rows := mockPool.NewRows(runColumns).
			AddRow(runID.String(), "completed", noText, noText, &url, &mime, 2048, now, now)
		mockPool.ExpectQuery(`SELECT (.+) FROM generation_runs WHERE run_id = \$1`).
			WithArgs(runID.String()).
			WillReturnRows(rows)

		got, err := repo.Get(context.Background(), runID)

		require.NoError(t, err)
		assert.Equal(t, "completed", got.Status)
		require.NotNil(t, got.OutputURL)
		assert.Equal(t, url, *got.OutputURL)
		assert.Nil(t, got.ErrorCode)
		assert.Equal(t, 2048, got.OutputSizeBytes)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return ErrRunNotFound for unknown runs", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		runID := core.MustNewID()
		mockPool.ExpectQuery(`SELECT (.+) FROM generation_runs WHERE run_id = \$1`).
			WithArgs(runID.String()).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Get(context.Background(), runID)

		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestStatusRepo_ListByStatus(t *testing.T) {
	t.Run("Should list runs by status with a limit", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		now := time.Now()
		code := core.ErrCodeAPIError
		msg := "provider down"
		var noText *string
		rows := mockPool.NewRows(runColumns).
			AddRow("run-1", "failed", &code, &msg, noText, noText, 0, now, now).
			AddRow("run-2", "failed", &code, &msg, noText, noText, 0, now, now)
		mockPool.ExpectQuery(`SELECT (.+) FROM generation_runs WHERE status = \$1 ORDER BY updated_at DESC LIMIT 10`).
			WithArgs("failed").
			WillReturnRows(rows)

		got, err := repo.ListByStatus(context.Background(), executor.StatusFailed, 10)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, code, *got[1].ErrorCode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestClampInt32(t *testing.T) {
	t.Run("Should fall back for non-positive values", func(t *testing.T) {
		assert.Equal(t, int32(10), clampInt32(0, 10))
		assert.Equal(t, int32(7), clampInt32(7, 10))
	})
}
