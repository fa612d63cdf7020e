package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/model"
	"github.com/klauss/klauss/internal/orchestrator"
)

var (
	submitJobID      string
	submitPriority   int
	submitWorkingDir string
	submitContext    []string
	submitOutputs    []string
	submitDependsOn  []int64
	submitParent     int64
	submitAutoVerify bool
	submitMetadata   string
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Insert one task into the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var submitFileCmd = &cobra.Command{
	Use:   "submit-file <file>",
	Short: "Insert many tasks from a JSON submission file (spec.md §6)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmitFile,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd} {
		c.Flags().StringVar(&submitJobID, "job", "", "existing job id to attach the task to (default: creates a new job)")
		c.Flags().IntVar(&submitPriority, "priority", 0, "task priority, higher claims first")
		c.Flags().StringVar(&submitWorkingDir, "working-dir", "", "working directory for the executor CLI")
		c.Flags().StringSliceVar(&submitContext, "context-file", nil, "context file to inline into the prompt (repeatable)")
		c.Flags().StringSliceVar(&submitOutputs, "expected-output", nil, "expected output path to verify exists (repeatable)")
		c.Flags().Int64SliceVar(&submitDependsOn, "depends-on", nil, "task id this task depends on (repeatable)")
		c.Flags().Int64Var(&submitParent, "parent-task", 0, "parent task id (logical grouping only)")
		c.Flags().BoolVar(&submitAutoVerify, "auto-verify", true, "auto-detect verification hooks when none are given")
		c.Flags().StringVar(&submitMetadata, "metadata", "", "opaque metadata as a JSON object")
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	o := orchestrator.New(q, newWorkspaceManager(cfg))

	jobID := submitJobID
	if jobID == "" {
		jobID, err = o.CreateJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
	}

	var metadata json.RawMessage
	if submitMetadata != "" {
		if !json.Valid([]byte(submitMetadata)) {
			return fmt.Errorf("--metadata is not valid JSON")
		}
		metadata = json.RawMessage(submitMetadata)
	}

	taskID, err := o.AddSubtask(ctx, jobID, args[0], orchestrator.SubtaskOptions{
		Priority:        submitPriority,
		WorkingDir:      submitWorkingDir,
		ContextFiles:    submitContext,
		ExpectedOutputs: submitOutputs,
		DependsOn:       submitDependsOn,
		ParentTaskID:    submitParent,
		AutoVerify:      submitAutoVerify,
		Metadata:        metadata,
	})
	if err != nil {
		return err
	}

	fmt.Printf("job %s: submitted task %d\n", jobID, taskID)
	return nil
}

// submissionTask mirrors the JSON array shape of spec.md §6's submission
// file format: the §3 input fields, with documented defaults for whatever
// is missing.
type submissionTask struct {
	Prompt            string                    `json:"prompt"`
	WorkingDir        string                    `json:"working_dir"`
	ContextFiles      []string                  `json:"context_files"`
	ExpectedOutputs   []string                  `json:"expected_outputs"`
	Metadata          json.RawMessage           `json:"metadata"`
	Priority          int                       `json:"priority"`
	JobID             string                    `json:"job_id"`
	ParentTaskID      int64                     `json:"parent_task_id"`
	DependsOn         []int64                   `json:"depends_on"`
	VerificationHooks []model.VerificationHook  `json:"verification_hooks"`
	AutoVerify        *bool                     `json:"auto_verify"`
}

func runSubmitFile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read submission file: %w", err)
	}
	var tasks []submissionTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("parse submission file: %w", err)
	}

	o := orchestrator.New(q, newWorkspaceManager(cfg))

	jobCache := make(map[string]string)
	defaultJobID := ""

	for i, t := range tasks {
		jobID := t.JobID
		if jobID == "" {
			if defaultJobID == "" {
				defaultJobID, err = o.CreateJob(ctx, fmt.Sprintf("submitted from %s", args[0]))
				if err != nil {
					return fmt.Errorf("create job: %w", err)
				}
			}
			jobID = defaultJobID
		} else if _, ok := jobCache[jobID]; !ok {
			if _, err := q.GetJob(ctx, jobID); err != nil {
				return fmt.Errorf("task %d: job_id %q not found: %w", i, jobID, err)
			}
			jobCache[jobID] = jobID
		}

		autoVerify := true
		if t.AutoVerify != nil {
			autoVerify = *t.AutoVerify
		}

		taskID, err := o.AddSubtask(ctx, jobID, t.Prompt, orchestrator.SubtaskOptions{
			Priority:          t.Priority,
			WorkingDir:        t.WorkingDir,
			ContextFiles:      t.ContextFiles,
			ExpectedOutputs:   t.ExpectedOutputs,
			DependsOn:         t.DependsOn,
			ParentTaskID:      t.ParentTaskID,
			VerificationHooks: t.VerificationHooks,
			AutoVerify:        autoVerify,
			Metadata:          t.Metadata,
		})
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		fmt.Printf("job %s: submitted task %d\n", jobID, taskID)
	}
	return nil
}
