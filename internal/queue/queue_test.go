package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/store"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestAddTaskRejectsUnknownDependency(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	a, err := q.AddTask(ctx, &model.Task{Prompt: "a"})
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	b, err := q.AddTask(ctx, &model.Task{Prompt: "b", DependsOn: []int64{a}})
	if err != nil {
		t.Fatalf("add b: %v", err)
	}

	// A cycle cannot be built through AddTask (a already exists without
	// depending on b, and every dependency must already exist), so this
	// checks that a dependency on an id no task has (9999) is rejected.
	if _, err := q.AddTask(ctx, &model.Task{Prompt: "c", DependsOn: []int64{b, 9999}}); err == nil {
		t.Fatal("expected error referencing an unknown dependency")
	}
}

func TestAddTaskRejectsNegativePriority(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	_, err := q.AddTask(ctx, &model.Task{Prompt: "x", Priority: -1})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}

	all, listErr := q.ListAll(ctx)
	if listErr != nil {
		t.Fatalf("list all: %v", listErr)
	}
	if len(all) != 0 {
		t.Fatalf("queue mutated despite rejected add: %v", all)
	}
}

func TestQueueClaimAndComplete(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	id, err := q.AddTask(ctx, &model.Task{Prompt: "work"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	task, err := q.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task.ID != id {
		t.Fatalf("claimed %d, want %d", task.ID, id)
	}

	if err := q.Start(ctx, id, "worker-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Complete(ctx, id, "worker-1", &model.TaskOutcome{Stdout: "done"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestQueueClaimNoReadyTask(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if _, err := q.Claim(ctx, "worker-1"); err != store.ErrNoReadyTask {
		t.Fatalf("claim on empty queue = %v, want ErrNoReadyTask", err)
	}
}

func TestQueueResetAfterFailure(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	id, _ := q.AddTask(ctx, &model.Task{Prompt: "flaky"})
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Start(ctx, id, "worker-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Fail(ctx, id, "worker-1", "transient error"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := q.Reset(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}

	task, err := q.Claim(ctx, "worker-2")
	if err != nil {
		t.Fatalf("reclaim after reset: %v", err)
	}
	if task.ID != id {
		t.Fatalf("claimed %d, want %d", task.ID, id)
	}
}

func TestSweepStaleReclaimsDeadWorkerTasks(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	id, _ := q.AddTask(ctx, &model.Task{Prompt: "orphan"})
	task, err := q.Claim(ctx, "dead-worker")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task.ID != id {
		t.Fatalf("claimed %d, want %d", task.ID, id)
	}

	// No worker row was ever registered for "dead-worker", so the join in
	// SweepStale finds nothing to compare against and the task is left
	// alone. Register one with an heartbeat far in the past to simulate
	// a worker that died without clean shutdown.
	if err := q.store.RegisterWorker(ctx, &model.WorkerRecord{
		WorkerID:      "dead-worker",
		PID:           12345,
		StartedAt:     time.Now().Add(-time.Hour),
		LastHeartbeat: time.Now().Add(-time.Hour),
		Status:        model.WorkerBusy,
	}); err != nil {
		t.Fatalf("register worker: %v", err)
	}

	reclaimed, err := q.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != id {
		t.Fatalf("reclaimed = %v, want [%d]", reclaimed, id)
	}

	got, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskPending {
		t.Fatalf("status = %q, want pending after sweep", got.Status)
	}
}
