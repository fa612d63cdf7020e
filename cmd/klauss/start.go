package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start [N]",
	Short: "Launch the coordinator with N workers (default 4)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n := cfg.Workers.DefaultCount
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid worker count %q", args[0])
		}
		n = parsed
	}

	pidPath := coordinatorPIDPath(cfg)
	if err := writePIDFile(pidPath, os.Getpid()); err != nil {
		return fatalConfig("write coordinator pid file: %v", err)
	}
	defer os.Remove(pidPath)

	svCfg := supervisor.DefaultConfig()
	svCfg.WorkerCount = n
	if cfg.Workers.IdleTimeoutSeconds > 0 {
		svCfg.IdleTimeout = time.Duration(cfg.Workers.IdleTimeoutSeconds) * time.Second
	}
	svCfg.LogDir = logsDir(cfg)
	svCfg.WorkerArgs = func(workerID string) []string {
		wargs := []string{"_worker", "--worker-id=" + workerID, "--project-root=" + cfg.Project.Root}
		if flagDBPath != "" {
			wargs = append(wargs, "--db="+flagDBPath)
		}
		if flagConfigPath != "" {
			wargs = append(wargs, "--config="+flagConfigPath)
		}
		return wargs
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	sv, err := supervisor.New(svCfg, q, logger)
	if err != nil {
		return fatalConfig("create coordinator: %v", err)
	}

	fmt.Fprintf(os.Stderr, "klauss: starting coordinator with %d worker(s), logs in %s\n", n, svCfg.LogDir)
	return sv.Run(ctx)
}
