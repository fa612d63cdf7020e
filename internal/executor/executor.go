// Package executor invokes the external code-generating CLI (the "executor
// CLi", spec.md glossary) a worker spawns per task. It is a single,
// config-driven adapter generalized from the teacher's per-CLI
// ClaudeAdapter/CodexAdapter/GooseAdapter split in internal/backend: one
// worker binary can target whichever CLI a deployment configures, instead
// of compiling in a fixed choice of three.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/klauss/klauss/internal/process"
)

// Config is the command template used to invoke the executor CLI. The
// defaults reproduce the teacher's ClaudeAdapter.buildArgs exactly: `claude
// -p <prompt> --output-format json [--model M] [--system-prompt P]`.
type Config struct {
	Command      string
	Model        string
	SystemPrompt string
	ExtraArgs    []string
	Timeout      time.Duration
}

// DefaultConfig targets the Claude Code CLI, matching the teacher's
// out-of-the-box adapter.
func DefaultConfig() Config {
	return Config{
		Command: "claude",
		Timeout: 30 * time.Minute,
	}
}

// Result is what a worker records from one executor invocation before
// verification runs.
type Result struct {
	Stdout string
	Stderr string
}

// jsonResponse mirrors the `--output-format json` shape the teacher's
// ClaudeAdapter.parseClaudeResponse decodes; other executor CLIs that don't
// speak this format simply fail the decode and fall back to raw stdout.
type jsonResponse struct {
	SessionID string `json:"session_id"`
	Result    struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
}

// Executor runs the configured CLI with a prompt and returns its output.
type Executor struct {
	cfg Config
	pm  *process.Manager
}

// New creates an Executor backed by pm for process tracking (may be nil).
func New(cfg Config, pm *process.Manager) *Executor {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Executor{cfg: cfg, pm: pm}
}

// buildArgs constructs the CLI arguments, following the teacher's
// buildArgs layout: positional prompt flag, output format, then optional
// model/system-prompt overrides, then any deployment-specific extra args.
func (e *Executor) buildArgs(prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "json"}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	if e.cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", e.cfg.SystemPrompt)
	}
	return append(args, e.cfg.ExtraArgs...)
}

// Run spawns the executor CLI with prompt in workingDir, enforcing a
// wall-clock timeout with a TERM-then-kill grace period, and returns its
// captured output.
//
// timeout, if non-zero, overrides the configured cfg.Timeout for this
// invocation only — the worker uses this to honor a task's per-task
// metadata timeout override (spec.md §4.3 point 5). grace is how long to
// wait after a context-deadline TERM before escalating to KILL; it is
// independent of the timeout.
func (e *Executor) Run(ctx context.Context, workingDir, prompt string, grace, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := process.New(runCtx, workingDir, e.cfg.Command, e.buildArgs(prompt)...)
	// The goroutine below owns the TERM-then-KILL escalation; without this,
	// exec.CommandContext would SIGKILL the leader as soon as runCtx ends.
	cmd.Cancel = func() error { return nil }

	done := make(chan struct{})
	var killed bool
	go func() {
		select {
		case <-runCtx.Done():
			if cmd.Process != nil {
				process.TerminateGroup(cmd)
				select {
				case <-done:
				case <-time.After(grace):
					killed = true
					process.KillGroup(cmd)
				}
			}
		case <-done:
		}
	}()

	var onStart func(*exec.Cmd)
	if e.pm != nil {
		onStart = e.pm.Track
	}

	stdout, stderr, err := process.Run(cmd, onStart)
	close(done)

	if e.pm != nil {
		e.pm.Untrack(cmd)
	}

	result := Result{Stdout: extractText(stdout), Stderr: string(stderr)}
	if err != nil {
		if killed {
			return result, fmt.Errorf("executor CLI timed out and was killed after grace period: %w", err)
		}
		return result, fmt.Errorf("executor CLI failed: %w", err)
	}
	return result, nil
}

// extractText decodes the `--output-format json` envelope and concatenates
// its text content blocks, falling back to the raw bytes for executor CLIs
// that were configured without JSON output.
func extractText(stdout []byte) string {
	var resp jsonResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return string(stdout)
	}
	var text string
	for _, block := range resp.Result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return string(stdout)
	}
	return text
}
