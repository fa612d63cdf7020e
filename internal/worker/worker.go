// Package worker implements the per-process execution loop described in
// spec.md §4.3: claim a task, build its effective prompt, run the executor
// CLI, verify its output, and record the result — repeating until asked to
// shut down. Grounded on the teacher's internal/orchestrator/runner.go
// executeTask sequence (mark running → send → mark terminal), collapsed
// from wave-concurrent-with-errgroup to the single-threaded claim/execute/
// verify/complete loop the spec calls for, since each worker here is its
// own OS process rather than one goroutine among many sharing a DAG.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauss/klauss/internal/executor"
	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/store"
	"github.com/klauss/klauss/internal/verify"
	"github.com/klauss/klauss/internal/workspace"
)

// Config tunes the worker loop's timing. Zero values are replaced by
// DefaultConfig's fields.
type Config struct {
	// PollIntervalMin/Max bound the jittered sleep (spec.md §4.3 point 2:
	// "1-3s, jittered") applied when the queue has no ready task.
	PollIntervalMin time.Duration
	PollIntervalMax time.Duration
	// HeartbeatInterval is how often the background ticker updates the
	// worker's liveness row (spec.md §9: resolved to 5s).
	HeartbeatInterval time.Duration
	// KillGrace is how long to wait after TERM before escalating to KILL,
	// both for the executor CLI timeout path and for shutdown.
	KillGrace time.Duration
	// ContextFileBudget caps how many bytes of each context_files entry are
	// inlined into the prompt (spec.md §4.3 point 3: "truncated to a sane
	// budget").
	ContextFileBudget int
}

// DefaultConfig mirrors spec.md §9's resolved defaults.
func DefaultConfig() Config {
	return Config{
		PollIntervalMin:   1 * time.Second,
		PollIntervalMax:   3 * time.Second,
		HeartbeatInterval: queue.HeartbeatInterval,
		KillGrace:         10 * time.Second,
		ContextFileBudget: 8192,
	}
}

// Worker runs the claim/execute/verify/complete loop for one worker_id.
type Worker struct {
	id       string
	q        *queue.Queue
	exec     *executor.Executor
	verifyCfg verify.Config
	ws       *workspace.Manager
	cfg      Config
	logger   *log.Logger

	currentTask atomic.Int64 // 0 when idle; read by the heartbeat goroutine
}

// New creates a Worker identified by id. logger defaults to a plain stdout
// logger if nil; every line is written through logf with a "[id] [phase] "
// prefix, matching spec.md §4.3's structured log-line format so the
// coordinator's captured per-worker log file reads the same way a human
// watching stdout would.
func New(id string, q *queue.Queue, exec *executor.Executor, verifyCfg verify.Config, ws *workspace.Manager, cfg Config, logger *log.Logger) *Worker {
	def := DefaultConfig()
	if cfg.PollIntervalMin <= 0 {
		cfg.PollIntervalMin = def.PollIntervalMin
	}
	if cfg.PollIntervalMax <= 0 {
		cfg.PollIntervalMax = def.PollIntervalMax
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	if cfg.ContextFileBudget <= 0 {
		cfg.ContextFileBudget = def.ContextFileBudget
	}
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Worker{id: id, q: q, exec: exec, verifyCfg: verifyCfg, ws: ws, cfg: cfg, logger: logger}
}

func (w *Worker) logf(phase, format string, args ...interface{}) {
	w.logger.Printf("[%s] [%s] %s", w.id, phase, fmt.Sprintf(format, args...))
}

// Run registers the worker, starts its heartbeat ticker, and executes the
// main loop until ctx is cancelled (spec.md §4.3: TERM/INT set a shutdown
// flag the loop checks cooperatively — here that flag is ctx.Done()).
func (w *Worker) Run(ctx context.Context) error {
	w.logf("STARTUP", "store path unknown to worker; resolved by caller before construction")

	stats, err := w.q.Stats(ctx, "")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if stats.Pending == 0 {
		w.logf("STARTUP", "warning: no pending tasks visible at startup")
	} else {
		w.logf("STARTUP", "%d pending task(s) visible", stats.Pending)
	}

	if err := w.q.RegisterWorker(ctx, &model.WorkerRecord{
		WorkerID:      w.id,
		PID:           os.Getpid(),
		StartedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		Status:        model.WorkerIdle,
	}); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx)

	err = w.loop(ctx)

	if markErr := w.q.MarkWorkerStopped(context.Background(), w.id); markErr != nil {
		w.logf("SHUTDOWN", "failed to mark worker stopped: %v", markErr)
	}
	w.logf("SHUTDOWN", "exiting")
	return err
}

// heartbeatLoop runs on its own ticker, sharing nothing with the main loop
// except the atomic currentTask counter (spec.md §4.3 point 9).
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			taskID := w.currentTask.Load()
			status := model.WorkerIdle
			if taskID != 0 {
				status = model.WorkerBusy
			}
			if err := w.q.Heartbeat(ctx, w.id, taskID, status); err != nil {
				w.logf("HEARTBEAT", "update failed: %v", err)
			}
		}
	}
}

// loop is the cooperative claim → execute → verify → complete cycle.
func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := w.q.Claim(ctx, w.id)
		if err == store.ErrNoReadyTask {
			if !w.sleep(ctx, w.jitteredPollInterval()) {
				return nil
			}
			continue
		}
		if err != nil {
			w.logf("CLAIM", "claim failed: %v", err)
			if !w.sleep(ctx, w.jitteredPollInterval()) {
				return nil
			}
			continue
		}

		w.currentTask.Store(task.ID)
		w.executeTask(ctx, task)
		w.currentTask.Store(0)
	}
}

func (w *Worker) jitteredPollInterval() time.Duration {
	lo, hi := w.cfg.PollIntervalMin, w.cfg.PollIntervalMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// sleep waits for d or ctx cancellation, returning false if it was
// cancelled (meaning the caller should exit its loop, not continue it).
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// executeTask runs one task end to end: build prompt, spawn the executor
// CLI, verify, and record the outcome. Errors at any stage are recorded as
// a task failure and the worker continues (spec.md §7: "execution/
// verification errors are captured as task-level failures, never bubble
// out of the worker loop").
func (w *Worker) executeTask(ctx context.Context, task *model.Task) {
	w.logf("CLAIM", "claimed task %d (priority %d)", task.ID, task.Priority)

	if err := w.q.Start(ctx, task.ID, w.id); err != nil {
		w.logf("EXEC", "start transition failed for task %d: %v", task.ID, err)
		return
	}

	workingDir, err := w.ws.Provision(task.WorkingDir)
	if err != nil {
		w.failTask(ctx, task, fmt.Sprintf("working_dir resolution failed: %v", err))
		return
	}

	prompt, err := w.buildPrompt(ctx, task)
	if err != nil {
		w.failTask(ctx, task, fmt.Sprintf("prompt assembly failed: %v", err))
		return
	}

	w.logf("EXEC", "running executor CLI in %s", workingDir)

	result, err := w.exec.Run(ctx, workingDir, prompt, w.cfg.KillGrace, perTaskTimeout(task))
	if err != nil {
		w.failTask(ctx, task, fmt.Sprintf("executor CLI failed: %v\n--- stderr tail ---\n%s", err, tail(result.Stderr, 2000)))
		return
	}

	w.logf("VERIFY", "running verification for task %d", task.ID)
	resolvedTask := *task
	resolvedTask.WorkingDir = workingDir
	report := verify.Verify(ctx, &resolvedTask, w.verifyCfg)
	outcome := &model.TaskOutcome{Stdout: result.Stdout, Stderr: result.Stderr, Verification: report}

	if !report.Passed {
		w.failTask(ctx, task, verificationSummary(report, result.Stderr))
		return
	}

	if err := w.q.Complete(ctx, task.ID, w.id, outcome); err != nil {
		w.logf("COMPLETE", "recording completion for task %d failed: %v", task.ID, err)
		return
	}
	w.logf("COMPLETE", "task %d completed", task.ID)
}

func (w *Worker) failTask(ctx context.Context, task *model.Task, msg string) {
	if err := w.q.Fail(ctx, task.ID, w.id, msg); err != nil {
		w.logf("FAIL", "recording failure for task %d failed: %v", task.ID, err)
		return
	}
	w.logf("FAIL", "task %d failed: %s", task.ID, msg)
}

// buildPrompt assembles the effective prompt sent to the executor CLI:
// shared-context preamble, then inlined context_files, then the task's own
// prompt (spec.md §4.3 point 3).
func (w *Worker) buildPrompt(ctx context.Context, task *model.Task) (string, error) {
	var b strings.Builder

	shared, err := w.q.ListSharedContext(ctx, task.JobID)
	if err != nil {
		return "", fmt.Errorf("load shared context: %w", err)
	}
	if len(shared) > 0 {
		b.WriteString("Project Conventions (follow these):\n")
		keys := make([]string, 0, len(shared))
		for k := range shared {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, shared[k])
		}
		b.WriteString("\n")
	}

	for _, cf := range task.ContextFiles {
		content, err := readContextFile(cf, task.WorkingDir, w.cfg.ContextFileBudget)
		if err != nil {
			w.logf("EXEC", "skipping unreadable context file %s: %v", cf, err)
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", cf, content)
	}

	b.WriteString(task.Prompt)
	return b.String(), nil
}

func readContextFile(path, workingDir string, budget int) (string, error) {
	resolved := path
	if !strings.HasPrefix(path, "/") && workingDir != "" {
		resolved = workingDir + "/" + path
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if budget > 0 && len(data) > budget {
		return string(data[:budget]) + "\n... (truncated)", nil
	}
	return string(data), nil
}

// perTaskTimeout reads an optional "timeout_seconds" override from the
// task's opaque metadata blob (spec.md §4.3 point 5: "configurable per task
// via metadata"). Absence or a malformed value yields 0, meaning "use the
// executor's configured default".
func perTaskTimeout(task *model.Task) time.Duration {
	if len(task.Metadata) == 0 {
		return 0
	}
	var fields struct {
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(task.Metadata, &fields); err != nil {
		return 0
	}
	if fields.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(fields.TimeoutSeconds) * time.Second
}

// verificationSummary folds the hook failures and a stderr tail into a
// single error string: FailTask has no outcome column to attach them to
// (spec.md §3: result and error are never both populated), so this is the
// only place that diagnostic detail survives.
func verificationSummary(r *model.VerificationReport, stderr string) string {
	var b strings.Builder
	b.WriteString("verification failed:")
	for _, res := range r.Results {
		if !res.Passed {
			fmt.Fprintf(&b, " [%s exit=%d]", res.Description, res.ExitCode)
		}
	}
	if tailed := tail(stderr, 2000); tailed != "" {
		fmt.Fprintf(&b, "\n--- stderr tail ---\n%s", tailed)
	}
	return b.String()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
