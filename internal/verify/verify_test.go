package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauss/klauss/internal/model"
)

func TestDetectHooksGo(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}

	hooks := DetectHooks(dir, DefaultConfig())
	if len(hooks) != 3 {
		t.Fatalf("hooks = %v, want 3 go hooks", hooks)
	}
}

func TestDetectHooksPreferTSConfigOverPackageJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte("{}"), 0o644)
	os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644)

	hooks := DetectHooks(dir, DefaultConfig())
	for _, h := range hooks {
		if h.Description == "lint" || h.Description == "test" {
			continue
		}
		if h.Command != "tsc --noEmit" {
			t.Errorf("unexpected hook from package.json rule: %+v", h)
		}
	}
	// typecheck + configured lint + configured test = 3
	if len(hooks) != 3 {
		t.Fatalf("hooks = %v, want 3 (tsconfig should suppress the package.json rule)", hooks)
	}
}

func TestDetectHooksNoMarkersIsEmpty(t *testing.T) {
	dir := t.TempDir()
	hooks := DetectHooks(dir, DefaultConfig())
	if len(hooks) != 0 {
		t.Fatalf("hooks = %v, want none", hooks)
	}
}

func TestCheckOutputsMissingFile(t *testing.T) {
	dir := t.TempDir()
	msg := CheckOutputs(dir, []string{"never_written.txt"})
	if msg == "" {
		t.Fatal("expected a missing-output diagnostic")
	}
}

func TestCheckOutputsAllPresent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "out.txt"), []byte("ok"), 0o644)
	msg := CheckOutputs(dir, []string{"out.txt"})
	if msg != "" {
		t.Fatalf("unexpected diagnostic: %q", msg)
	}
}

func TestVerifyMissingOutputSkipsHooks(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644)

	task := &model.Task{
		WorkingDir:      dir,
		ExpectedOutputs: []string{"never_written.txt"},
		AutoVerify:      true,
	}
	report := Verify(context.Background(), task, DefaultConfig())
	if report.Passed {
		t.Fatal("expected verification to fail on missing output")
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %v, want exactly the output-check diagnostic (hooks skipped)", report.Results)
	}
}

func TestRunHooksContinuesPastFailure(t *testing.T) {
	dir := t.TempDir()
	hooks := []model.VerificationHook{
		{Command: "exit 1", Description: "always fails"},
		{Command: "exit 0", Description: "always passes"},
	}
	report := RunHooks(context.Background(), dir, hooks, DefaultConfig())
	if report.Passed {
		t.Fatal("expected overall failure")
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %v, want both hooks to have run", report.Results)
	}
	if !report.Results[1].Passed {
		t.Fatal("second hook should have passed despite the first failing")
	}
}
