package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/model"
)

var listCmd = &cobra.Command{
	Use:   "list [status]",
	Short: "List tasks, optionally filtered by status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var tasks []*model.Task
	if len(args) == 1 {
		status := model.TaskStatus(args[0])
		switch status {
		case model.TaskPending, model.TaskClaimed, model.TaskInProgress, model.TaskCompleted, model.TaskFailed:
		default:
			return fmt.Errorf("unknown status %q (want one of pending, claimed, in_progress, completed, failed)", args[0])
		}
		tasks, err = q.ListByStatus(ctx, status)
	} else {
		tasks, err = q.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tJOB\tWORKER\tPROMPT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.JobID, t.WorkerID, truncate(t.Prompt, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
