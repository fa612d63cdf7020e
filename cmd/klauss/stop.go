package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/model"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Send TERM to the coordinator and all workers; report residual processes",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	pidPath := coordinatorPIDPath(cfg)
	coordPID, pidErr := readPIDFile(pidPath)

	if pidErr == nil && processAlive(coordPID) {
		if err := signalPID(coordPID, syscall.SIGTERM); err != nil {
			fmt.Printf("failed to signal coordinator (pid %d): %v\n", coordPID, err)
		} else {
			fmt.Printf("sent TERM to coordinator (pid %d)\n", coordPID)
		}
	} else {
		fmt.Println("no running coordinator found")
	}

	// The coordinator's own shutdown path signals its worker process group,
	// but give it a moment before checking for residual processes, since
	// spec.md §6 asks stop to "report residual processes" rather than just
	// fire-and-forget.
	time.Sleep(2 * time.Second)

	workers, err := q.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	var residual []string
	if pidErr == nil && processAlive(coordPID) {
		residual = append(residual, fmt.Sprintf("coordinator (pid %d)", coordPID))
	}
	for _, w := range workers {
		if w.Status != model.WorkerStopped && processAlive(w.PID) {
			residual = append(residual, fmt.Sprintf("%s (pid %d)", w.WorkerID, w.PID))
		}
	}

	if len(residual) == 0 {
		fmt.Println("no residual processes")
		return nil
	}
	fmt.Println("residual processes still running:")
	for _, r := range residual {
		fmt.Printf("  %s\n", r)
	}
	return nil
}
