package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/store"
)

func fakeWorkerBinary(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake worker script: %v", err)
	}
	return path
}

func testQueue(t *testing.T) *queue.Queue {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return queue.New(s)
}

func TestSupervisorSpawnsConfiguredWorkerCount(t *testing.T) {
	bin := fakeWorkerBinary(t, "sleep 5")
	sv, err := New(Config{
		WorkerCount:   3,
		LogDir:        t.TempDir(),
		WorkerBinary:  bin,
		ShutdownGrace: time.Second,
	}, testQueue(t), nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	status := sv.Status()
	if len(status) != 3 {
		t.Fatalf("len(status) = %d, want 3", len(status))
	}
	for _, s := range status {
		if s.PID == 0 {
			t.Errorf("slot %s has no pid", s.WorkerID)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not shut down after cancellation")
	}
}

func TestSupervisorRestartsCrashedWorker(t *testing.T) {
	bin := fakeWorkerBinary(t, "exit 1")
	sv, err := New(Config{
		WorkerCount:   1,
		LogDir:        t.TempDir(),
		WorkerBinary:  bin,
		ShutdownGrace: time.Second,
		SweepInterval: time.Hour,
	}, testQueue(t), nil)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sv.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sv.mu.Lock()
		s := sv.slots["worker_1"]
		restarts := 0
		if s != nil {
			restarts = len(s.restarts)
		}
		sv.mu.Unlock()
		if restarts >= restartBudgetCount {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worker_1 was not restarted up to the restart budget in time")
}
