// Package queue implements the priority/dependency scheduling policy on top
// of internal/store's durable primitives: cycle-safe task submission,
// resilient claiming, and the stale-claim sweep that gives workers
// heartbeat-based liveness (spec.md §4.1, §9).
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/store"
)

// ValidationError is returned by AddTask for malformed input that must be
// surfaced synchronously to the caller without mutating the queue (spec.md
// §7's ValidationError kind: unknown depends_on, dependency cycle, negative
// priority).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

// HeartbeatInterval is how often a worker updates its heartbeat.
const HeartbeatInterval = 5 * time.Second

// StaleThreshold is how long a worker's heartbeat can go silent before its
// claimed/in-progress task is reclaimed by SweepStale — three missed
// heartbeats, per spec.md §9's resolved open question.
const StaleThreshold = 3 * HeartbeatInterval

// Queue wraps a Store with dependency-validated submission and
// transient-error-resilient claiming.
type Queue struct {
	store   *store.Store
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// New wraps s with default retry and circuit breaker settings.
func New(s *store.Store) *Queue {
	return &Queue{store: s, breaker: newBreaker(), retry: DefaultRetryConfig()}
}

// AddTask validates t.Priority and that t.DependsOn would not introduce a
// cycle, then persists it. Dependency existence is also checked here so the
// caller gets a clear error before a transaction is opened in the store.
func (q *Queue) AddTask(ctx context.Context, t *model.Task) (int64, error) {
	if t.Priority < 0 {
		return 0, &ValidationError{Reason: fmt.Sprintf("priority %d must be >= 0", t.Priority)}
	}

	existing, err := q.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	placeholder := nextPlaceholderID(existing)
	if err := q.validateAcyclic(ctx, placeholder, t.DependsOn); err != nil {
		return 0, err
	}

	var id int64
	err = q.withRetry(ctx, func() error {
		var err error
		id, err = q.store.AddTask(ctx, t)
		return err
	})
	return id, err
}

// Claim atomically hands the caller the next eligible task, or
// store.ErrNoReadyTask if none is currently eligible.
func (q *Queue) Claim(ctx context.Context, workerID string) (*model.Task, error) {
	var task *model.Task
	err := q.withRetry(ctx, func() error {
		var err error
		task, err = q.store.Claim(ctx, workerID)
		return err
	})
	return task, err
}

// Start marks a claimed task in_progress. It fails unless workerID still
// owns the task (spec.md §4.1), so a worker that was swept as stale and
// later wakes up cannot clobber whatever worker reclaimed the task.
func (q *Queue) Start(ctx context.Context, id int64, workerID string) error {
	return q.withRetry(ctx, func() error { return q.store.StartTask(ctx, id, workerID) })
}

// Complete marks an in-progress task completed with its outcome. It fails
// unless workerID still owns the task, for the same fencing reason as Start.
func (q *Queue) Complete(ctx context.Context, id int64, workerID string, outcome *model.TaskOutcome) error {
	return q.withRetry(ctx, func() error { return q.store.CompleteTask(ctx, id, workerID, outcome) })
}

// Fail marks an in-progress task failed with errMsg. It fails unless
// workerID still owns the task, for the same fencing reason as Start. Unlike
// Complete, there is no outcome parameter: spec.md §3 requires result and
// error to never both be populated, so a failure only ever records the
// error string.
func (q *Queue) Fail(ctx context.Context, id int64, workerID string, errMsg string) error {
	return q.withRetry(ctx, func() error { return q.store.FailTask(ctx, id, workerID, errMsg) })
}

// Reset returns a task to pending so it can be claimed again (spec.md §4.4
// retry semantics: clears claimed_at/started_at/worker_id, per the resolved
// open question in spec.md §9).
func (q *Queue) Reset(ctx context.Context, id int64) error {
	return q.withRetry(ctx, func() error { return q.store.ResetTask(ctx, id) })
}

// SweepStale reclaims tasks owned by workers that have missed StaleThreshold
// worth of heartbeats.
func (q *Queue) SweepStale(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := q.withRetry(ctx, func() error {
		var err error
		ids, err = q.store.SweepStale(ctx, StaleThreshold)
		return err
	})
	return ids, err
}

// Stats returns aggregate counts, optionally scoped to a job.
func (q *Queue) Stats(ctx context.Context, jobID string) (*model.QueueStats, error) {
	return q.store.Stats(ctx, jobID)
}

// Get, List* pass straight through: reads are not retried, since a read
// failing under contention just means the caller tries again on its own
// schedule (a poll loop, a CLI invocation) rather than needing the queue to
// paper over it.
func (q *Queue) Get(ctx context.Context, id int64) (*model.Task, error) {
	return q.store.GetTask(ctx, id)
}

func (q *Queue) ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	return q.store.ListByStatus(ctx, status)
}

func (q *Queue) ListByJob(ctx context.Context, jobID string) ([]*model.Task, error) {
	return q.store.ListByJob(ctx, jobID)
}

func (q *Queue) ListAll(ctx context.Context) ([]*model.Task, error) {
	return q.store.ListTasks(ctx)
}

// ListReady returns every task currently eligible for claim, in the order
// Claim would hand them out (spec.md §4.1 list_ready).
func (q *Queue) ListReady(ctx context.Context) ([]*model.Task, error) {
	return q.store.ListReady(ctx)
}
