package main

import (
	"context"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/model"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Send KILL to all matching coordinator/worker processes",
	RunE:  runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	killed := 0

	pidPath := coordinatorPIDPath(cfg)
	if pid, err := readPIDFile(pidPath); err == nil && processAlive(pid) {
		if err := signalPID(pid, syscall.SIGKILL); err != nil {
			fmt.Printf("failed to kill coordinator (pid %d): %v\n", pid, err)
		} else {
			fmt.Printf("killed coordinator (pid %d)\n", pid)
			killed++
		}
	}

	workers, err := q.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	for _, w := range workers {
		if w.Status == model.WorkerStopped || !processAlive(w.PID) {
			continue
		}
		if err := signalPID(w.PID, syscall.SIGKILL); err != nil {
			fmt.Printf("failed to kill %s (pid %d): %v\n", w.WorkerID, w.PID, err)
			continue
		}
		fmt.Printf("killed %s (pid %d)\n", w.WorkerID, w.PID)
		killed++
	}

	if killed == 0 {
		fmt.Println("no matching processes found")
	}
	return nil
}
