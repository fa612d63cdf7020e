package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/store"
	"github.com/klauss/klauss/internal/workspace"
)

func testOrchestrator(t *testing.T, root string) (*Orchestrator, *queue.Queue) {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := queue.New(s)
	ws := workspace.New(workspace.Config{ProjectRoot: root})
	return New(q, ws), q
}

func TestCreateJobAndAddSubtask(t *testing.T) {
	o, q := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, err := o.CreateJob(ctx, "do a bunch of things")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a non-empty job id")
	}

	taskID, err := o.AddSubtask(ctx, jobID, "first step", SubtaskOptions{Priority: 5})
	if err != nil {
		t.Fatalf("add subtask: %v", err)
	}

	task, err := q.Get(ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.JobID != jobID || task.Priority != 5 {
		t.Fatalf("task = %+v, want job %s priority 5", task, jobID)
	}
}

func TestAddSubtaskRejectsWorkingDirOutsideRoot(t *testing.T) {
	o, _ := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, err := o.CreateJob(ctx, "job")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	_, err = o.AddSubtask(ctx, jobID, "escape", SubtaskOptions{WorkingDir: "/etc"})
	var bv *workspace.BoundaryViolation
	if !errors.As(err, &bv) {
		t.Fatalf("err = %v, want *workspace.BoundaryViolation", err)
	}
}

func TestAddSubtaskRejectsNegativePriority(t *testing.T) {
	o, _ := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, err := o.CreateJob(ctx, "job")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	_, err = o.AddSubtask(ctx, jobID, "bad priority", SubtaskOptions{Priority: -3})
	var ve *queue.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *queue.ValidationError", err)
	}
}

func TestGetJobStatusReflectsProgress(t *testing.T) {
	o, q := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, _ := o.CreateJob(ctx, "job")
	id1, _ := o.AddSubtask(ctx, jobID, "a", SubtaskOptions{})
	_, _ = o.AddSubtask(ctx, jobID, "b", SubtaskOptions{})

	task, err := q.Claim(ctx, "w1")
	if err != nil || task.ID != id1 {
		t.Fatalf("claim first task: task=%v err=%v", task, err)
	}
	if err := q.Start(ctx, id1, "w1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Complete(ctx, id1, "w1", &model.TaskOutcome{Stdout: "done"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	status, err := o.GetJobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("get job status: %v", err)
	}
	if status.Total != 2 || status.Completed != 1 || status.Pending != 1 {
		t.Fatalf("status = %+v, want total=2 completed=1 pending=1", status)
	}
}

func TestWaitAndCollectBlocksUntilTerminal(t *testing.T) {
	o, q := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, _ := o.CreateJob(ctx, "job")
	id, _ := o.AddSubtask(ctx, jobID, "a", SubtaskOptions{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		task, err := q.Claim(ctx, "w1")
		if err != nil {
			t.Errorf("claim: %v", err)
			return
		}
		if err := q.Start(ctx, task.ID, "w1"); err != nil {
			t.Errorf("start: %v", err)
			return
		}
		if err := q.Complete(ctx, task.ID, "w1", &model.TaskOutcome{Stdout: "ok"}); err != nil {
			t.Errorf("complete: %v", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results, err := o.WaitAndCollect(waitCtx, jobID, WaitAndCollectConfig{PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("wait and collect: %v", err)
	}
	r, ok := results[id]
	if !ok || r.Status != model.TaskCompleted || r.Result.Stdout != "ok" {
		t.Fatalf("results[%d] = %+v, want completed/ok", id, r)
	}
}

func TestRetryFailedTasksResetsToPending(t *testing.T) {
	o, q := testOrchestrator(t, t.TempDir())
	ctx := context.Background()

	jobID, _ := o.CreateJob(ctx, "job")
	id, _ := o.AddSubtask(ctx, jobID, "a", SubtaskOptions{})

	task, err := q.Claim(ctx, "w1")
	if err != nil || task.ID != id {
		t.Fatalf("claim: task=%v err=%v", task, err)
	}
	if err := q.Start(ctx, id, "w1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Fail(ctx, id, "w1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	failed, err := o.GetFailedTasks(ctx, jobID)
	if err != nil || len(failed) != 1 {
		t.Fatalf("get failed tasks: failed=%v err=%v", failed, err)
	}

	n, err := o.RetryFailedTasks(ctx, jobID)
	if err != nil {
		t.Fatalf("retry failed tasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("retried %d tasks, want 1", n)
	}

	reset, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reset.Status != model.TaskPending {
		t.Fatalf("status = %s, want pending", reset.Status)
	}
}

func TestSynthesizeResultsIsPureFormatter(t *testing.T) {
	results := map[int64]TaskResult{
		1: {Status: model.TaskCompleted, Result: &model.TaskOutcome{Stdout: "all good"}},
		2: {Status: model.TaskFailed, Error: "boom"},
	}
	out := SynthesizeResults(results, "Summarize the run.")
	if !containsAll(out, "Summarize the run.", "task 1", "all good", "task 2", "boom") {
		t.Fatalf("synthesized output missing expected fragments: %q", out)
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
