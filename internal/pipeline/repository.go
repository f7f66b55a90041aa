package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository handles database operations for pipeline tracking
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new pipeline repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func newRunID() string {
	return uuid.NewString()
}

// CreateRun inserts a run record, assigning its id.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}

	query := `
		INSERT INTO pipeline_runs (
			id, tenant_id, as_of, status, started_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TenantID, run.AsOf, run.Status, run.StartedAt,
	)
	return err
}

// UpdateRun updates status, counters and completion of an existing run
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE pipeline_runs
		SET status = $1, orders_total = $2, orders_attributed = $3,
		    malformed_rows = $4, recommendations = $5, fingerprint = $6,
		    completed_at = $7, error_message = $8
		WHERE id = $9
	`

	_, err := r.db.ExecContext(ctx, query,
		run.Status, run.OrdersTotal, run.OrdersAttributed,
		run.MalformedRows, run.Recommendations, run.Fingerprint,
		run.CompletedAt, run.ErrorMessage, run.ID,
	)
	return err
}

const runColumns = `id, tenant_id, as_of, status, orders_total, orders_attributed,
		       malformed_rows, recommendations, fingerprint, started_at, completed_at, error_message`

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.TenantID, &run.AsOf, &run.Status, &run.OrdersTotal, &run.OrdersAttributed,
		&run.MalformedRows, &run.Recommendations, &run.Fingerprint, &run.StartedAt, &run.CompletedAt, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by id. It returns nil, nil when no run exists.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// LatestCompletedRun returns the most recent completed run of a tenant, or nil.
func (r *Repository) LatestCompletedRun(ctx context.Context, tenantID string) (*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM pipeline_runs
		WHERE tenant_id = $1 AND status = $2
		ORDER BY as_of DESC, completed_at DESC
		LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, tenantID, StatusCompleted))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the runs of a tenant started since the given time, newest first.
func (r *Repository) ListRuns(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM pipeline_runs
		WHERE tenant_id = $1 AND started_at >= $2
		ORDER BY started_at DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailStaleRuns marks runs stuck in processing since before cutoff as failed,
// for example after a crashed scheduler. It returns the number of runs updated.
func (r *Repository) FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE pipeline_runs
		SET status = $1, error_message = $2, completed_at = $3
		WHERE status IN ($4, $5) AND started_at < $6
	`

	res, err := r.db.ExecContext(ctx, query,
		StatusFailed, "abandoned", time.Now().UTC(), StatusPending, StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
