package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/klauss/klauss/internal/model"
)

// AddJob inserts a new job row. Callers (internal/orchestrator) are
// responsible for generating the ID (google/uuid).
func (s *Store) AddJob(ctx context.Context, job *model.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, description) VALUES (?, ?)
	`, job.ID, job.Description)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, created_at FROM jobs WHERE id = ?
	`, id).Scan(&job.ID, &job.Description, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns every job, oldest first.
func (s *Store) ListJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, created_at FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var job model.Job
		if err := rows.Scan(&job.ID, &job.Description, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// JobProgress computes the aggregate status of a job from its tasks'
// current statuses. Job status is derived, not stored, so it can never
// drift out of sync with the tasks it is computed from: failed if any task
// has failed, completed if every task has completed, running otherwise.
func (s *Store) JobProgress(ctx context.Context, jobID string) (*model.JobProgress, error) {
	stats, err := s.Stats(ctx, jobID)
	if err != nil {
		return nil, err
	}

	total := stats.Pending + stats.Claimed + stats.InProgress + stats.Completed + stats.Failed
	progress := &model.JobProgress{
		JobID:      jobID,
		Total:      total,
		Pending:    stats.Pending,
		InProgress: stats.Claimed + stats.InProgress,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
	}

	switch {
	case total == 0:
		progress.Status = model.JobRunning
	case stats.Failed > 0:
		progress.Status = model.JobFailed
	case stats.Completed == total:
		progress.Status = model.JobCompleted
	default:
		progress.Status = model.JobRunning
	}

	if total > 0 {
		progress.ProgressPct = float64(stats.Completed+stats.Failed) / float64(total) * 100
	}
	return progress, nil
}
