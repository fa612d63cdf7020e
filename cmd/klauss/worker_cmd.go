package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/executor"
	"github.com/klauss/klauss/internal/process"
	"github.com/klauss/klauss/internal/verify"
	"github.com/klauss/klauss/internal/worker"
)

var workerID string

// workerCmd is the hidden self-exec entry point the coordinator spawns
// (spec.md §9 "Process identity": a worker id unique within the
// deployment). Not shown in --help; a plain worker_1/worker_2/... scheme
// assigned by the coordinator, but any unused id works if a worker is
// started outside coordinator supervision.
var workerCmd = &cobra.Command{
	Use:    "_worker",
	Short:  "Run a single worker loop (internal; spawned by `start`)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "worker-id", "", "unique worker id (required)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if workerID == "" {
		return fatalConfig("--worker-id is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	pm := process.NewManager()
	execCfg := executor.Config{
		Command:      cfg.Executor.Command,
		Model:        cfg.Executor.Model,
		SystemPrompt: cfg.Executor.SystemPrompt,
	}
	verifyCfg := verify.Config{
		HookTimeout: verify.DefaultHookTimeout,
		LintCommand: cfg.Verification.LintCommand,
		TestCommand: cfg.Verification.TestCommand,
	}

	w := worker.New(workerID, q, executor.New(execCfg, pm), verifyCfg, newWorkspaceManager(cfg), worker.DefaultConfig(), nil)
	return w.Run(ctx)
}
