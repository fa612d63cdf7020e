package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauss/klauss/internal/executor"
	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/store"
	"github.com/klauss/klauss/internal/verify"
	"github.com/klauss/klauss/internal/workspace"
)

func fakeExecutorCLI(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-executor.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake executor script: %v", err)
	}
	return path
}

func testHarness(t *testing.T, scriptBody string) (*queue.Queue, *Worker, string) {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.New(s)
	projectRoot := t.TempDir()

	script := fakeExecutorCLI(t, scriptBody)
	exec := executor.New(executor.Config{Command: script, Timeout: 5 * time.Second}, nil)
	ws := workspace.New(workspace.Config{ProjectRoot: projectRoot})

	w := New("worker-1", q, exec, verify.Config{}, ws, DefaultConfig(), nil)
	return q, w, projectRoot
}

func waitForStatus(t *testing.T, q *queue.Queue, id int64, want model.TaskStatus, timeout time.Duration) *model.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %d did not reach status %q in time", id, want)
	return nil
}

func TestWorkerCompletesSuccessfulTask(t *testing.T) {
	q, w, _ := testHarness(t, `echo '{"result":{"content":[{"type":"text","text":"ok"}]}}'`)
	ctx, cancel := context.WithCancel(context.Background())

	id, err := q.AddTask(context.Background(), &model.Task{Prompt: "do a thing", Priority: 1})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	task := waitForStatus(t, q, id, model.TaskCompleted, 5*time.Second)
	if task.Result == nil || task.Result.Stdout != "ok" {
		t.Fatalf("result = %+v, want stdout=ok", task.Result)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down after context cancellation")
	}
}

func TestWorkerFailsTaskOnNonZeroExit(t *testing.T) {
	q, w, _ := testHarness(t, `echo boom >&2; exit 1`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.AddTask(context.Background(), &model.Task{Prompt: "will fail"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	go w.Run(ctx)

	task := waitForStatus(t, q, id, model.TaskFailed, 5*time.Second)
	if task.Error == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestWorkerFailsTaskOnMissingExpectedOutput(t *testing.T) {
	q, w, root := testHarness(t, `echo '{"result":{"content":[{"type":"text","text":"ok"}]}}'`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := q.AddTask(context.Background(), &model.Task{
		Prompt:          "write a file",
		WorkingDir:      root,
		ExpectedOutputs: []string{"never_written.txt"},
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	go w.Run(ctx)

	task := waitForStatus(t, q, id, model.TaskFailed, 5*time.Second)
	if task.Error == "" {
		t.Fatal("expected a verification error message")
	}
}

func TestWorkerInjectsSharedContextPreamble(t *testing.T) {
	script := fakeExecutorCLI(t, `printf '%s' "$2" > /tmp/klauss_worker_test_prompt.txt; echo '{"result":{"content":[{"type":"text","text":"ok"}]}}'`)
	s, err := store.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q := queue.New(s)
	projectRoot := t.TempDir()
	exec := executor.New(executor.Config{Command: script, Timeout: 5 * time.Second}, nil)
	ws := workspace.New(workspace.Config{ProjectRoot: projectRoot})
	w := New("worker-1", q, exec, verify.Config{}, ws, DefaultConfig(), nil)

	if err := q.SetSharedContext(context.Background(), "", "style", "terse"); err != nil {
		t.Fatalf("set shared context: %v", err)
	}

	id, err := q.AddTask(context.Background(), &model.Task{Prompt: "say hi"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, q, id, model.TaskCompleted, 5*time.Second)

	captured, err := os.ReadFile("/tmp/klauss_worker_test_prompt.txt")
	if err != nil {
		t.Fatalf("read captured prompt: %v", err)
	}
	if !strings.Contains(string(captured), "Project Conventions") || !strings.Contains(string(captured), "style: terse") {
		t.Fatalf("captured prompt = %q, want shared-context preamble", captured)
	}
	os.Remove("/tmp/klauss_worker_test_prompt.txt")
}
