package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/klauss/klauss/internal/model"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	depID, err := s.AddTask(ctx, &model.Task{Prompt: "setup", AutoVerify: true})
	if err != nil {
		t.Fatalf("add dependency task: %v", err)
	}

	id, err := s.AddTask(ctx, &model.Task{
		Prompt:          "write code",
		WorkingDir:      "/work/job1",
		ContextFiles:    []string{"a.go", "b.go"},
		ExpectedOutputs: []string{"out.go"},
		Priority:        5,
		JobID:           "job-1",
		DependsOn:       []int64{depID},
		AutoVerify:      true,
	})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Prompt != "write code" {
		t.Errorf("Prompt = %q, want %q", got.Prompt, "write code")
	}
	if got.Status != model.TaskPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != depID {
		t.Errorf("DependsOn = %v, want [%d]", got.DependsOn, depID)
	}
	if len(got.ContextFiles) != 2 {
		t.Errorf("ContextFiles = %v, want 2 entries", got.ContextFiles)
	}
}

func TestAddTaskUnknownDependencyFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, &model.Task{Prompt: "x", DependsOn: []int64{999}})
	if err == nil {
		t.Fatal("expected error for nonexistent dependency, got nil")
	}
}

func TestClaimRespectsDependencies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	depID, _ := s.AddTask(ctx, &model.Task{Prompt: "dep"})
	childID, _ := s.AddTask(ctx, &model.Task{Prompt: "child", DependsOn: []int64{depID}})

	claimed, err := s.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != depID {
		t.Fatalf("claimed task %d, want dependency %d (child must wait)", claimed.ID, depID)
	}

	if _, err := s.Claim(ctx, "worker-2"); err != ErrNoReadyTask {
		t.Fatalf("second claim = %v, want ErrNoReadyTask (child still blocked)", err)
	}

	if err := s.StartTask(ctx, depID, "worker-1"); err != nil {
		t.Fatalf("start dep: %v", err)
	}
	if err := s.CompleteTask(ctx, depID, "worker-1", &model.TaskOutcome{Stdout: "done"}); err != nil {
		t.Fatalf("complete dep: %v", err)
	}

	claimed2, err := s.Claim(ctx, "worker-2")
	if err != nil {
		t.Fatalf("claim after dep completes: %v", err)
	}
	if claimed2.ID != childID {
		t.Fatalf("claimed task %d, want child %d", claimed2.ID, childID)
	}
}

// TestClaimConcurrentWorkersNeverDoubleAssign drives real goroutines at a
// shared Store the way the teacher's locks_test.go drives ResourceLockManager
// (spec.md §8: "two workers calling claim concurrently never both succeed
// on the same task"). With only one task available, exactly one of many
// concurrent claimants must win it and the rest must see ErrNoReadyTask.
func TestClaimConcurrentWorkersNeverDoubleAssign(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.AddTask(ctx, &model.Task{Prompt: "contended"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*model.Task, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Claim(ctx, fmt.Sprintf("worker-%d", i))
		}(i)
	}
	wg.Wait()

	var winners int
	for i := 0; i < workers; i++ {
		switch errs[i] {
		case nil:
			winners++
			if results[i].ID != id {
				t.Fatalf("worker-%d claimed unexpected task %d", i, results[i].ID)
			}
		case ErrNoReadyTask:
			// expected for every loser
		default:
			t.Fatalf("worker-%d: unexpected error %v", i, errs[i])
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1 (two workers must never both claim task %d)", winners, id)
	}
}

func TestClaimPriorityOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	lowID, _ := s.AddTask(ctx, &model.Task{Prompt: "low", Priority: 1})
	highID, _ := s.AddTask(ctx, &model.Task{Prompt: "high", Priority: 10})
	_ = lowID

	claimed, err := s.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != highID {
		t.Fatalf("claimed %d, want higher-priority task %d", claimed.ID, highID)
	}
}

func TestClaimNoDoubleAssignment(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, &model.Task{Prompt: "only task"})

	first, err := s.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.ID != id {
		t.Fatalf("claimed %d, want %d", first.ID, id)
	}

	if _, err := s.Claim(ctx, "worker-2"); err != ErrNoReadyTask {
		t.Fatalf("second claim = %v, want ErrNoReadyTask", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, &model.Task{Prompt: "lifecycle"})

	if _, err := s.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.StartTask(ctx, id, "worker-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.CompleteTask(ctx, id, "worker-1", &model.TaskOutcome{Stdout: "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Result == nil || got.Result.Stdout != "ok" {
		t.Fatalf("result = %+v, want stdout ok", got.Result)
	}
	if got.WorkerID != "" {
		t.Fatalf("worker_id = %q, want cleared on completion", got.WorkerID)
	}
}

func TestFailTaskClearsWorkerIDAndLeavesResultNil(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, &model.Task{Prompt: "flaky"})
	if _, err := s.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.StartTask(ctx, id, "worker-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.FailTask(ctx, id, "worker-1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.WorkerID != "" {
		t.Fatalf("worker_id = %q, want cleared on failure", got.WorkerID)
	}
	if got.Result != nil {
		t.Fatalf("result = %+v, want nil (error and result must not both be set)", got.Result)
	}
	if got.Error != "boom" {
		t.Fatalf("error = %q, want boom", got.Error)
	}
}

func TestResetReturnsTaskToPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.AddTask(ctx, &model.Task{Prompt: "flaky"})
	if _, err := s.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.StartTask(ctx, id, "worker-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.FailTask(ctx, id, "worker-1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := s.ResetTask(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.WorkerID != "" || got.ClaimedAt != nil || got.StartedAt != nil {
		t.Fatalf("reset task still carries ownership: %+v", got)
	}
}

func TestStatsCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.AddTask(ctx, &model.Task{Prompt: "a", JobID: "job-x"})
	id2, _ := s.AddTask(ctx, &model.Task{Prompt: "b", JobID: "job-x"})
	s.Claim(ctx, "w1")
	_ = id2

	stats, err := s.Stats(ctx, "job-x")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Claimed != 1 {
		t.Fatalf("stats = %+v, want 1 pending, 1 claimed", stats)
	}
}

func TestJobProgressAggregates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AddJob(ctx, &model.Job{ID: "job-1", Description: "demo"}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	id1, _ := s.AddTask(ctx, &model.Task{Prompt: "a", JobID: "job-1"})
	s.AddTask(ctx, &model.Task{Prompt: "b", JobID: "job-1"})

	s.Claim(ctx, "w1")
	s.StartTask(ctx, id1, "w1")
	s.CompleteTask(ctx, id1, "w1", &model.TaskOutcome{Stdout: "done"})

	progress, err := s.JobProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("job progress: %v", err)
	}
	if progress.Total != 2 || progress.Completed != 1 || progress.Pending != 1 {
		t.Fatalf("progress = %+v", progress)
	}
	if progress.Status != model.JobRunning {
		t.Fatalf("status = %q, want running (one task still pending)", progress.Status)
	}
}

func TestSharedContextFallsBackToGlobal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SetSharedContext(ctx, "", "api-key", "global-value"); err != nil {
		t.Fatalf("set global: %v", err)
	}

	v, err := s.GetSharedContext(ctx, "job-1", "api-key")
	if err != nil {
		t.Fatalf("get with job scope falling back: %v", err)
	}
	if v != "global-value" {
		t.Fatalf("value = %q, want global-value", v)
	}

	if err := s.SetSharedContext(ctx, "job-1", "api-key", "job-scoped-value"); err != nil {
		t.Fatalf("set job-scoped: %v", err)
	}
	v, err = s.GetSharedContext(ctx, "job-1", "api-key")
	if err != nil {
		t.Fatalf("get job-scoped: %v", err)
	}
	if v != "job-scoped-value" {
		t.Fatalf("value = %q, want job-scoped-value (should shadow global)", v)
	}
}
