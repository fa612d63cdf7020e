package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/klauss/klauss/internal/config"
)

// coordinatorPIDPath is where `start` records the coordinator's own PID so
// `stop`/`kill` can find it without scanning the process table (spec.md §6:
// stop/kill act on "coordinator and all workers").
func coordinatorPIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Project.Root, ".klauss", "coordinator.pid")
}

func writePIDFile(path string, pid int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether pid refers to a live process, using the
// signal-0 idiom (send no actual signal, just check deliverability).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}

func signalPID(pid int, sig syscall.Signal) error {
	if !processAlive(pid) {
		return fmt.Errorf("pid %d not running", pid)
	}
	return syscall.Kill(pid, sig)
}
