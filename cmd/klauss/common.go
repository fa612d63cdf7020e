package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/config"
	"github.com/klauss/klauss/internal/queue"
	"github.com/klauss/klauss/internal/store"
	"github.com/klauss/klauss/internal/workspace"
)

// fatalConfigError marks an error as spec.md §7's FatalConfiguration kind:
// the CLI exits 2 instead of the default user-error exit code 1.
type fatalConfigError struct{ err error }

func (e *fatalConfigError) Error() string { return e.err.Error() }
func (e *fatalConfigError) Unwrap() error { return e.err }

func fatalConfig(format string, args ...interface{}) error {
	return &fatalConfigError{err: fmt.Errorf(format, args...)}
}

// loadConfig resolves configuration with spec.md §6's CLI > env > config
// file > default precedence: --db is bound into viper and --project-root is
// applied after loading, so either flag overrides everything else.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	root := flagProjectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fatalConfig("resolve working directory: %v", err)
		}
		root = wd
	}

	cfg, err := config.Load(config.Options{
		ConfigPath:  flagConfigPath,
		ProjectRoot: root,
		Flags:       cmd.Flags(),
		FlagBindings: map[string]string{
			"db": "database.path",
		},
	})
	if err != nil {
		return nil, fatalConfig("load config: %v", err)
	}
	if flagProjectRoot != "" || cfg.Project.Root == "" || cfg.Project.Root == "." {
		cfg.Project.Root = root
	}
	return cfg, nil
}

// resolvedDBPath returns cfg.Database.Path made absolute against the
// project root, matching spec.md §6's "all paths are resolved relative to
// the project root."
func resolvedDBPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Database.Path) {
		return cfg.Database.Path
	}
	return filepath.Join(cfg.Project.Root, cfg.Database.Path)
}

// openQueue loads config and opens the durable store/queue the way every
// participant (orchestrator CLI, coordinator, worker) does at startup,
// logging the resolved store path as spec.md §3 requires.
func openQueue(ctx context.Context, cmd *cobra.Command) (*config.Config, *queue.Queue, *store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	dbPath := resolvedDBPath(cfg)
	fmt.Fprintf(os.Stderr, "klauss: using store %s\n", dbPath)

	s, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, nil, nil, fatalConfig("open store at %s: %v", dbPath, err)
	}
	return cfg, queue.New(s), s, nil
}

func newWorkspaceManager(cfg *config.Config) *workspace.Manager {
	return workspace.New(workspace.Config{
		ProjectRoot:       cfg.Project.Root,
		AllowExternalDirs: cfg.Safety.AllowExternalDirs,
	})
}

func logsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Project.Root, "logs")
}
