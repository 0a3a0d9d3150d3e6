// Package repository is the Postgres implementation of the job and activity
// type stores.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
)

const jobColumns = `id, status, request, strategy, current_page, total_pages, current_records,
	total_records, pagination_complete, filename, file_path, error_message, error_code, created_at, updated_at`

// JobRepository stores report jobs in the report_jobs table.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository constructs a repository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Create inserts a job.
func (r *JobRepository) Create(ctx context.Context, job *model.ReportJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO report_jobs (id, status, request, strategy, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, job.ID, string(job.Status), job.Request, job.Strategy, job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*model.ReportJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id=$1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// List returns every job, newest first.
func (r *JobRepository) List(ctx context.Context) ([]model.ReportJob, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM report_jobs ORDER BY created_at DESC`)
}

// Transition applies upd only when the stored status is one of from.
func (r *JobRepository) Transition(ctx context.Context, id string, from []model.JobStatus, upd model.JobUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE report_jobs
		SET status = $1,
			strategy = COALESCE(NULLIF($2, ''), strategy),
			filename = COALESCE(NULLIF($3, ''), filename),
			file_path = COALESCE(NULLIF($4, ''), file_path),
			error_message = COALESCE(NULLIF($5, ''), error_message),
			error_code = COALESCE(NULLIF($6, ''), error_code),
			updated_at = $7
		WHERE id = $8 AND status = ANY($9)
	`, string(upd.Status), upd.Strategy, upd.Filename, upd.FilePath, upd.ErrorMessage, upd.ErrorCode,
		upd.At.UTC(), id, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM report_jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// UpdateProgress stores a progress snapshot while the job is processing.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, p model.Progress, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE report_jobs
		SET current_page=$1, total_pages=$2, current_records=$3, total_records=$4,
			pagination_complete=$5, updated_at=$6
		WHERE id=$7 AND status=$8
	`, p.CurrentPage, p.TotalPages, p.CurrentRecords, p.TotalRecords, p.PaginationComplete, at.UTC(), id, string(model.StatusProcessing))
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ListStale returns jobs in status not updated since cutoff.
func (r *JobRepository) ListStale(ctx context.Context, status model.JobStatus, cutoff time.Time) ([]model.ReportJob, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE status=$1 AND updated_at < $2`, string(status), cutoff.UTC())
}

// DeleteFinishedBefore removes terminal jobs created before cutoff and
// returns them.
func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]model.ReportJob, error) {
	return r.query(ctx, `DELETE FROM report_jobs WHERE status = ANY($1) AND created_at < $2 RETURNING `+jobColumns,
		statusStrings([]model.JobStatus{model.StatusCompleted, model.StatusError, model.StatusCancelled}), cutoff.UTC())
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM report_jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *JobRepository) query(ctx context.Context, sql string, args ...any) ([]model.ReportJob, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var out []model.ReportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.ReportJob, error) {
	var (
		job    model.ReportJob
		status string
	)
	err := row.Scan(&job.ID, &status, &job.Request, &job.Strategy,
		&job.Progress.CurrentPage, &job.Progress.TotalPages, &job.Progress.CurrentRecords,
		&job.Progress.TotalRecords, &job.Progress.PaginationComplete,
		&job.Filename, &job.FilePath, &job.ErrorMessage, &job.ErrorCode, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}

func statusStrings(in []model.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
