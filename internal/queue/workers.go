package queue

import (
	"context"

	"github.com/klauss/klauss/internal/model"
)

// RegisterWorker records a new worker row at startup.
func (q *Queue) RegisterWorker(ctx context.Context, w *model.WorkerRecord) error {
	return q.withRetry(ctx, func() error { return q.store.RegisterWorker(ctx, w) })
}

// Heartbeat updates a worker's liveness timestamp, current task, and
// status. Called once per HeartbeatInterval from the worker's ticker
// goroutine (spec.md §4.3 point 9).
func (q *Queue) Heartbeat(ctx context.Context, workerID string, currentTaskID int64, status model.WorkerStatus) error {
	return q.withRetry(ctx, func() error { return q.store.Heartbeat(ctx, workerID, currentTaskID, status) })
}

// MarkWorkerStopped records a worker's clean shutdown.
func (q *Queue) MarkWorkerStopped(ctx context.Context, workerID string) error {
	return q.withRetry(ctx, func() error { return q.store.MarkWorkerStopped(ctx, workerID) })
}

// ListWorkers returns every known worker row, most recently started first.
func (q *Queue) ListWorkers(ctx context.Context) ([]*model.WorkerRecord, error) {
	return q.store.ListWorkers(ctx)
}
