package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "coordinator.pid")

	if err := writePIDFile(path, 4242); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}

	got, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if got != 4242 {
		t.Errorf("got pid %d, want 4242", got)
	}
}

func TestReadPIDFileMissing(t *testing.T) {
	if _, err := readPIDFile(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Error("expected an error reading a missing pid file")
	}
}

func TestProcessAliveSelf(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("expected the current process to be reported alive")
	}
	if processAlive(0) {
		t.Error("expected pid 0 to be reported not alive")
	}
}

func TestSignalPIDDeadProcess(t *testing.T) {
	// A pid that is extremely unlikely to be in use.
	if err := signalPID(1<<30, syscall.SIGTERM); err == nil {
		t.Error("expected signaling a nonexistent pid to fail")
	}
}
