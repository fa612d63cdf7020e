package queue

import (
	"context"

	"github.com/klauss/klauss/internal/model"
)

// AddJob persists a new job row.
func (q *Queue) AddJob(ctx context.Context, job *model.Job) error {
	return q.withRetry(ctx, func() error { return q.store.AddJob(ctx, job) })
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return q.store.GetJob(ctx, id)
}

// ListJobs returns every job, oldest first.
func (q *Queue) ListJobs(ctx context.Context) ([]*model.Job, error) {
	return q.store.ListJobs(ctx)
}

// JobProgress computes a job's aggregate status from its tasks.
func (q *Queue) JobProgress(ctx context.Context, jobID string) (*model.JobProgress, error) {
	return q.store.JobProgress(ctx, jobID)
}
