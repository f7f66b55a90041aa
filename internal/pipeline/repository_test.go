package pipeline

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_CreateAndUpdateRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	run := &Run{TenantID: "tenant-a", AsOf: testAsOf, Status: StatusPending, StartedAt: testAsOf}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_runs")).
		WithArgs(sqlmock.AnyArg(), "tenant-a", testAsOf, StatusPending, testAsOf).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateRun(context.Background(), run))
	assert.Len(t, run.ID, 36)

	done := testAsOf.Add(time.Minute)
	run.Status = StatusCompleted
	run.Recommendations = 3
	run.Fingerprint = "abc"
	run.CompletedAt = &done

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_runs")).
		WithArgs(StatusCompleted, 0, 0, 0, 3, "abc", &done, "", run.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LatestCompletedRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "tenant_id", "as_of", "status", "orders_total", "orders_attributed",
		"malformed_rows", "recommendations", "fingerprint", "started_at", "completed_at", "error_message"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_runs")).
		WithArgs("tenant-a", StatusCompleted).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-1", "tenant-a", testAsOf, "completed", 10, 8, 1, 2, "f00d", testAsOf, testAsOf, ""))

	run, err := NewRepository(db).LatestCompletedRun(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 8, run.OrdersAttributed)
	require.NotNil(t, run.CompletedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_runs")).
		WithArgs("tenant-z", StatusCompleted).
		WillReturnRows(sqlmock.NewRows(cols))

	run, err = NewRepository(db).LatestCompletedRun(context.Background(), "tenant-z")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FailStaleRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := testAsOf.Add(-time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_runs")).
		WithArgs(StatusFailed, "abandoned", sqlmock.AnyArg(), StatusPending, StatusProcessing, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewRepository(db).FailStaleRuns(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
