package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options controls how Load resolves configuration. FlagBindings maps a
// pflag name (already parsed into Flags) to the dotted config key it
// overrides, giving Viper's native CLI > env > file > default precedence
// (spec.md §6) without cmd/klauss needing to know about Viper's key syntax.
type Options struct {
	// ConfigPath, if set, is used verbatim instead of searching ProjectRoot.
	ConfigPath string
	// ProjectRoot is searched for a config file when ConfigPath is empty.
	ProjectRoot string
	Flags       *pflag.FlagSet
	FlagBindings map[string]string
}

// Load resolves a Config following spec.md §6's precedence: CLI args > env
// > config file > built-in defaults. Every component constructor takes the
// resulting value directly (spec.md §9) rather than re-reading global
// state.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("project.name", def.Project.Name)
	v.SetDefault("project.root", def.Project.Root)
	v.SetDefault("safety.allow_external_dirs", def.Safety.AllowExternalDirs)
	v.SetDefault("workers.default_count", def.Workers.DefaultCount)
	v.SetDefault("workers.idle_timeout_seconds", def.Workers.IdleTimeoutSeconds)
	v.SetDefault("coordination.enabled", def.Coordination.Enabled)
	v.SetDefault("coordination.shared_db", def.Coordination.SharedDB)
	v.SetDefault("executor.command", def.Executor.Command)
	v.SetDefault("executor.model", def.Executor.Model)
	v.SetDefault("executor.system_prompt", def.Executor.SystemPrompt)
	v.SetDefault("verification.lint_command", def.Verification.LintCommand)
	v.SetDefault("verification.test_command", def.Verification.TestCommand)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("KLAUSS")
	v.AutomaticEnv()
	// Two of spec.md §6's named env vars take irregular key names, so they
	// need explicit bindings rather than the automatic dotted-key mapping;
	// the third, KLAUSS_AUTO_START_WORKERS, is read by AutoStartWorkers.
	v.BindEnv("database.path", "KLAUSS_DB_PATH")
	v.BindEnv("workers.default_count", "KLAUSS_WORKERS")

	if opts.Flags != nil {
		for flagName, key := range opts.FlagBindings {
			if f := opts.Flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s to %s: %w", flagName, key, err)
				}
			}
		}
	}

	if err := readConfigFile(v, opts); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, opts Options) error {
	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
	} else {
		root := opts.ProjectRoot
		if root == "" {
			root = "."
		}
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(root)
		v.AddConfigPath(filepath.Join(root, ".klauss"))
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if opts.ConfigPath == "" && os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("read config file: %w", err)
}

// AutoStartWorkers reads KLAUSS_AUTO_START_WORKERS directly: it gates an
// interactive prompt in internal/orchestrator.ensureWorkersAvailable rather
// than describing a resource any component owns, so it isn't part of the
// Config schema persisted to/read from a project config file.
func AutoStartWorkers() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("KLAUSS_AUTO_START_WORKERS")))
	return v == "true" || v == "1"
}
