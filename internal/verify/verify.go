// Package verify implements the post-execution verification pipeline: an
// output-existence check followed by a pipeline of hook commands, either
// declared explicitly on the task or auto-detected from marker files in its
// working directory. It shares internal/process's subprocess plumbing with
// internal/executor, but layers its own kill policy on top: a hung hook is
// killed outright on timeout rather than given the executor's TERM-then-
// grace-period off-ramp (see runHook below).
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/process"
)

// DefaultHookTimeout is the per-hook execution timeout (spec.md §4.2).
const DefaultHookTimeout = 120 * time.Second

// Config controls auto-detection: lint/test commands are only appended if
// configured (spec.md §4.2 point 2: "a linter if configured, a test command
// if configured"). Empty strings mean "not configured" and are skipped.
type Config struct {
	HookTimeout time.Duration
	LintCommand string
	TestCommand string
}

// DefaultConfig returns the out-of-the-box verification configuration.
func DefaultConfig() Config {
	return Config{
		HookTimeout: DefaultHookTimeout,
		LintCommand: "npm run lint",
		TestCommand: "npm test",
	}
}

// marker file -> hooks to append when present, in the order from spec.md's
// table. A build func that appends the configured lint or test command
// skips it when that config field is empty.
type markerRule struct {
	file  string
	build func(cfg Config) []model.VerificationHook
}

var markerRules = []markerRule{
	{
		file: "go.mod",
		build: func(cfg Config) []model.VerificationHook {
			return []model.VerificationHook{
				{Command: "go build ./...", Description: "go build"},
				{Command: "go vet ./...", Description: "go vet"},
				{Command: "go test ./...", Description: "go test"},
			}
		},
	},
	{
		file: "Cargo.toml",
		build: func(cfg Config) []model.VerificationHook {
			return []model.VerificationHook{
				{Command: "cargo check", Description: "cargo check"},
				{Command: "cargo test", Description: "cargo test"},
			}
		},
	},
	{
		file: "tsconfig.json",
		build: func(cfg Config) []model.VerificationHook {
			hooks := []model.VerificationHook{
				{Command: "tsc --noEmit", Description: "tsc typecheck"},
			}
			if cfg.LintCommand != "" {
				hooks = append(hooks, model.VerificationHook{Command: cfg.LintCommand, Description: "lint"})
			}
			if cfg.TestCommand != "" {
				hooks = append(hooks, model.VerificationHook{Command: cfg.TestCommand, Description: "test"})
			}
			return hooks
		},
	},
	{
		// package.json only fires auto-detection if tsconfig.json is absent
		// (handled in DetectHooks below), since the latter is a more
		// specific match.
		file: "package.json",
		build: func(cfg Config) []model.VerificationHook {
			var hooks []model.VerificationHook
			if cfg.LintCommand != "" {
				hooks = append(hooks, model.VerificationHook{Command: cfg.LintCommand, Description: "lint"})
			}
			if cfg.TestCommand != "" {
				hooks = append(hooks, model.VerificationHook{Command: cfg.TestCommand, Description: "test"})
			}
			return hooks
		},
	},
}

// DetectHooks inspects workingDir for well-known marker files and returns
// the hooks that project kind implies. Detection is best-effort: absence of
// any marker yields an empty slice, not an error.
func DetectHooks(workingDir string, cfg Config) []model.VerificationHook {
	hasTSConfig := fileExists(filepath.Join(workingDir, "tsconfig.json"))

	var hooks []model.VerificationHook
	for _, rule := range markerRules {
		if rule.file == "package.json" && hasTSConfig {
			continue
		}
		if fileExists(filepath.Join(workingDir, rule.file)) {
			hooks = append(hooks, rule.build(cfg)...)
		}
	}
	return hooks
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AssembleHooks returns the hooks to run for a task: its explicit
// verification_hooks if any were declared, otherwise auto-detected hooks
// when auto_verify is set (spec.md §4.2 point 2).
func AssembleHooks(t *model.Task, cfg Config) []model.VerificationHook {
	if len(t.VerificationHooks) > 0 {
		return t.VerificationHooks
	}
	if t.AutoVerify {
		return DetectHooks(t.WorkingDir, cfg)
	}
	return nil
}

// CheckOutputs verifies every path in expectedOutputs exists, resolved
// against workingDir. Returns a diagnostic for the first missing path, or
// "" if all are present.
func CheckOutputs(workingDir string, expectedOutputs []string) string {
	for _, p := range expectedOutputs {
		resolved := p
		if !filepath.IsAbs(p) {
			resolved = filepath.Join(workingDir, p)
		}
		if !fileExists(resolved) {
			return fmt.Sprintf("expected output missing: %s", p)
		}
	}
	return ""
}

// RunHooks executes each hook in workingDir with a per-hook timeout,
// continuing past the first failure so every hook's diagnostics are
// captured (spec.md §4.2 point 3).
func RunHooks(ctx context.Context, workingDir string, hooks []model.VerificationHook, cfg Config) *model.VerificationReport {
	timeout := cfg.HookTimeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}

	report := &model.VerificationReport{Passed: true}
	for _, hook := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, timeout)
		result := runHook(hookCtx, workingDir, hook)
		cancel()

		report.Results = append(report.Results, result)
		if !result.Passed {
			report.Passed = false
		}
	}
	return report
}

// runHook runs one verification hook to completion or until ctx's deadline.
// Unlike internal/executor's Run — which gives the long-running agent CLI a
// TERM-then-grace-period-then-KILL off-ramp so it can exit cleanly — a
// timed-out lint/test hook is killed outright: there is no state worth
// letting it save, and the worker would otherwise sit idle through a grace
// window for every hung `npm test`.
func runHook(ctx context.Context, workingDir string, hook model.VerificationHook) model.HookResult {
	cmd := process.New(ctx, workingDir, "sh", "-c", hook.Command)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				process.KillGroup(cmd)
			}
		case <-done:
		}
	}()

	stdout, stderr, err := process.Run(cmd, nil)
	close(done)

	result := model.HookResult{
		Description: hook.Description,
		Stdout:      string(stdout),
		Stderr:      string(stderr),
	}
	if err == nil {
		result.Passed = true
		result.ExitCode = 0
		return result
	}

	result.ExitCode = exitCode(err)
	result.Passed = false
	return result
}

func exitCode(err error) int {
	type exitCoder interface{ ExitCode() int }
	if ee, ok := err.(exitCoder); ok {
		return ee.ExitCode()
	}
	return -1
}

// Verify runs the full pipeline for a completed task: output existence
// check first (an early, decisive failure skips hooks entirely), then the
// assembled hook set.
func Verify(ctx context.Context, t *model.Task, cfg Config) *model.VerificationReport {
	if msg := CheckOutputs(t.WorkingDir, t.ExpectedOutputs); msg != "" {
		return &model.VerificationReport{
			Passed: false,
			Results: []model.HookResult{
				{Description: "expected output check", Passed: false, Stderr: msg, ExitCode: -1},
			},
		}
	}

	hooks := AssembleHooks(t, cfg)
	if len(hooks) == 0 {
		return &model.VerificationReport{Passed: true}
	}
	return RunHooks(ctx, t.WorkingDir, hooks, cfg)
}
