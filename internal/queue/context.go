package queue

import "context"

// SetSharedContext upserts a key/value pair, optionally scoped to a job
// (spec.md §3 Shared context: "last write wins").
func (q *Queue) SetSharedContext(ctx context.Context, jobID, key, value string) error {
	return q.withRetry(ctx, func() error { return q.store.SetSharedContext(ctx, jobID, key, value) })
}

// GetSharedContext looks up a value scoped to a job, falling back to the
// global entry.
func (q *Queue) GetSharedContext(ctx context.Context, jobID, key string) (string, error) {
	return q.store.GetSharedContext(ctx, jobID, key)
}

// DeleteSharedContext removes a job-scoped (or global) entry.
func (q *Queue) DeleteSharedContext(ctx context.Context, jobID, key string) error {
	return q.withRetry(ctx, func() error { return q.store.DeleteSharedContext(ctx, jobID, key) })
}

// ListSharedContext returns every entry visible to jobID (global entries
// plus job-scoped overrides).
func (q *Queue) ListSharedContext(ctx context.Context, jobID string) (map[string]string, error) {
	return q.store.ListSharedContext(ctx, jobID)
}
