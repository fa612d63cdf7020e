package process

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunBasicExecution(t *testing.T) {
	ctx := context.Background()
	cmd := New(ctx, "", "echo", "hello")

	stdout, stderr, err := Run(cmd, nil)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("stdout = %q, want it to contain hello", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("expected empty stderr, got: %s", stderr)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	ctx := context.Background()
	cmd := New(ctx, "", "sh", "-c", "echo error >&2; echo ok")

	stdout, stderr, err := Run(cmd, nil)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "ok") {
		t.Errorf("stdout = %q, want ok", stdout)
	}
	if !strings.Contains(string(stderr), "error") {
		t.Errorf("stderr = %q, want error", stderr)
	}
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Well above a typical 64KB pipe buffer.
	cmd := New(ctx, "", "sh", "-c", "for i in $(seq 1 20000); do echo line$i; done")

	start := time.Now()
	stdout, _, err := Run(cmd, nil)
	duration := time.Since(start)
	if err != nil {
		t.Fatalf("expected no error, got: %v (took %v)", err, duration)
	}
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) != 20000 {
		t.Errorf("got %d lines, want 20000 (possible pipe deadlock)", len(lines))
	}
}

func TestManagerTrackAndKillAll(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()
	cmd := New(ctx, "", "sleep", "30")

	done := make(chan error, 1)
	go func() {
		_, _, err := Run(cmd, mgr.Track)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 tracked process", mgr.Count())
	}

	if err := mgr.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed within timeout")
	}
}
