// Package orchestrator implements the controlling-process client face
// described in spec.md §4.5: create jobs, add subtasks against the queue's
// dependency graph, set shared context, and poll a job through to
// completion. Grounded on the teacher's internal/scheduler/workflow.go
// WorkflowManager (DAG-aware task creation) for AddSubtask's dependency and
// boundary wiring, and internal/orchestrator/qa_channel.go's
// block-on-channel-or-ctx-done idiom for WaitAndCollect's cancellable poll
// loop. Unlike the teacher's in-process orchestrator, this one has no
// shared memory with the workers it is waiting on — everything it observes
// comes back through the Queue API, so polling (not channels) is the only
// option.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klauss/klauss/internal/config"
	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/workspace"
)

// Orchestrator is the thin client over Queue that the controlling process
// (a CLI command, or a library caller embedding klauss) drives a job
// through.
type Orchestrator struct {
	q  *queue.Queue
	ws *workspace.Manager
}

// New creates an Orchestrator. ws enforces the working_dir boundary
// described in spec.md §4.5; pass a workspace.Manager configured with
// AllowExternalDirs to disable the check entirely.
func New(q *queue.Queue, ws *workspace.Manager) *Orchestrator {
	return &Orchestrator{q: q, ws: ws}
}

// CreateJob mints a job_id with google/uuid and persists the job row.
func (o *Orchestrator) CreateJob(ctx context.Context, description string) (string, error) {
	job := &model.Job{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := o.q.AddJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	return job.ID, nil
}

// SubtaskOptions carries add_subtask's **opts (spec.md §4.5).
type SubtaskOptions struct {
	Priority          int
	WorkingDir        string
	ContextFiles      []string
	ExpectedOutputs   []string
	DependsOn         []int64
	ParentTaskID      int64
	VerificationHooks []model.VerificationHook
	AutoVerify        bool
	Metadata          json.RawMessage
}

// AddSubtask validates working_dir against the project boundary, then
// submits the task to the queue, which validates priority and dependencies.
// Returns *workspace.BoundaryViolation (working_dir escapes the project root
// with allow_external_dirs false) or *queue.ValidationError (negative
// priority, unknown dependency, dependency cycle), both accessible via
// errors.As.
func (o *Orchestrator) AddSubtask(ctx context.Context, jobID, prompt string, opts SubtaskOptions) (int64, error) {
	if opts.WorkingDir != "" {
		if _, err := o.ws.Resolve(opts.WorkingDir); err != nil {
			return 0, err
		}
	}

	task := &model.Task{
		Prompt:            prompt,
		WorkingDir:        opts.WorkingDir,
		ContextFiles:      opts.ContextFiles,
		ExpectedOutputs:   opts.ExpectedOutputs,
		Metadata:          opts.Metadata,
		Priority:          opts.Priority,
		JobID:             jobID,
		ParentTaskID:      opts.ParentTaskID,
		DependsOn:         opts.DependsOn,
		VerificationHooks: opts.VerificationHooks,
		AutoVerify:        opts.AutoVerify,
	}
	return o.q.AddTask(ctx, task)
}

// SetSharedContext upserts a convention key/value, global unless jobID is set.
func (o *Orchestrator) SetSharedContext(ctx context.Context, jobID, key, value string) error {
	return o.q.SetSharedContext(ctx, jobID, key, value)
}

// GetJobStatus returns the job's aggregate progress.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*model.JobProgress, error) {
	return o.q.JobProgress(ctx, jobID)
}

// TaskResult is one entry of WaitAndCollect's task_id → result map.
type TaskResult struct {
	Status model.TaskStatus
	Result *model.TaskOutcome
	Error  string
}

// WaitAndCollectConfig tunes the poll loop.
type WaitAndCollectConfig struct {
	// PollInterval is how often GetJobStatus is re-checked (spec.md §4.5:
	// "polls the queue at 1-2s intervals").
	PollInterval time.Duration
	// ShowProgress, when true, prints a one-line progress update to stdout
	// on every poll tick (spec.md §4.5 show_progress).
	ShowProgress bool
	// EnsureWorkers, when true, calls EnsureWorkersAvailable before the
	// first poll.
	EnsureWorkers bool
	// StartWorkers is invoked by EnsureWorkersAvailable when it decides to
	// auto-start a worker pool (interactive confirmation or the
	// KLAUSS_AUTO_START_WORKERS env toggle). Supplying this keeps the
	// orchestrator package free of a direct dependency on internal/supervisor.
	StartWorkers func(ctx context.Context) error
}

// DefaultWaitAndCollectConfig mirrors spec.md §4.5's resolved default.
func DefaultWaitAndCollectConfig() WaitAndCollectConfig {
	return WaitAndCollectConfig{PollInterval: 2 * time.Second}
}

// WaitAndCollect blocks until every task in jobID is terminal (completed or
// failed), returning each task's outcome keyed by task_id.
func (o *Orchestrator) WaitAndCollect(ctx context.Context, jobID string, cfg WaitAndCollectConfig) (map[int64]TaskResult, error) {
	if cfg.PollInterval <= 0 {
		cfg = DefaultWaitAndCollectConfig()
	}

	if cfg.EnsureWorkers {
		if err := o.EnsureWorkersAvailable(ctx, cfg.StartWorkers); err != nil {
			return nil, err
		}
	}

	for {
		progress, err := o.q.JobProgress(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("poll job progress: %w", err)
		}
		if cfg.ShowProgress {
			fmt.Printf("job %s: %d/%d complete, %d failed (%.0f%%)\n",
				jobID, progress.Completed, progress.Total, progress.Failed, progress.ProgressPct)
		}

		if progress.Total > 0 && progress.Pending == 0 && progress.InProgress == 0 {
			return o.collectResults(ctx, jobID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) collectResults(ctx context.Context, jobID string) (map[int64]TaskResult, error) {
	tasks, err := o.q.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job tasks: %w", err)
	}
	out := make(map[int64]TaskResult, len(tasks))
	for _, t := range tasks {
		out[t.ID] = TaskResult{Status: t.Status, Result: t.Result, Error: t.Error}
	}
	return out, nil
}

// EnsureWorkersAvailable implements spec.md §4.5's "checks worker count via
// the workers table and, if zero and the process is attached to a
// terminal, prompts the user; in non-interactive mode reads an environment
// toggle to auto-start." startFn is nil-safe: if the caller declines (or
// none is supplied), this returns nil without starting anything, leaving
// the caller's submitted job queued for whenever a worker pool does appear.
func (o *Orchestrator) EnsureWorkersAvailable(ctx context.Context, startFn func(ctx context.Context) error) error {
	workers, err := o.q.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	live := 0
	for _, w := range workers {
		if w.Status != model.WorkerStopped {
			live++
		}
	}
	if live > 0 {
		return nil
	}

	if startFn == nil {
		return nil
	}

	if isTerminal(os.Stdin) {
		fmt.Print("No workers are running. Start a worker pool now? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return nil
		}
		return startFn(ctx)
	}

	if config.AutoStartWorkers() {
		return startFn(ctx)
	}
	return nil
}

// isTerminal reports whether f looks like an interactive terminal. A
// best-effort check (character-device mode bit) rather than a dedicated
// ioctl/terminal library, since the only decision it gates is "prompt or
// stay silent."
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// GetFailedTasks returns a job's failed tasks.
func (o *Orchestrator) GetFailedTasks(ctx context.Context, jobID string) ([]*model.Task, error) {
	return o.filterByJobStatus(ctx, jobID, model.TaskFailed)
}

// GetCompletedTasks returns a job's completed tasks.
func (o *Orchestrator) GetCompletedTasks(ctx context.Context, jobID string) ([]*model.Task, error) {
	return o.filterByJobStatus(ctx, jobID, model.TaskCompleted)
}

func (o *Orchestrator) filterByJobStatus(ctx context.Context, jobID string, status model.TaskStatus) ([]*model.Task, error) {
	tasks, err := o.q.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// RetryFailedTasks resets every failed task in jobID back to pending so the
// queue can hand it out again, returning how many were reset.
func (o *Orchestrator) RetryFailedTasks(ctx context.Context, jobID string) (int, error) {
	failed, err := o.GetFailedTasks(ctx, jobID)
	if err != nil {
		return 0, err
	}
	for _, t := range failed {
		if err := o.q.Reset(ctx, t.ID); err != nil {
			return 0, fmt.Errorf("reset task %d: %w", t.ID, err)
		}
	}
	return len(failed), nil
}

// SynthesizeResults is a pure formatter (spec.md §4.5: "no state mutation")
// that assembles a text blob suitable for feeding back to the executor CLI
// for summarization.
func SynthesizeResults(results map[int64]TaskResult, synthesisPrompt string) string {
	var b strings.Builder
	b.WriteString(synthesisPrompt)
	b.WriteString("\n\n--- Task Results ---\n")

	ids := make([]int64, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		r := results[id]
		fmt.Fprintf(&b, "\n[task %d] status=%s\n", id, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", r.Error)
			continue
		}
		if r.Result != nil && r.Result.Stdout != "" {
			fmt.Fprintf(&b, "%s\n", r.Result.Stdout)
		}
	}
	return b.String()
}
