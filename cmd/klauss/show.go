package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the full record for one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}

	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	task, err := q.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}

	out, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
