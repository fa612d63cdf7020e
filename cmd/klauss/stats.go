package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsJobID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate queue counts",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsJobID, "job", "", "scope stats to a single job")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, q, s, err := openQueue(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := q.Stats(ctx, statsJobID)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	total := stats.Pending + stats.Claimed + stats.InProgress + stats.Completed + stats.Failed
	fmt.Printf("pending:     %d\n", stats.Pending)
	fmt.Printf("claimed:     %d\n", stats.Claimed)
	fmt.Printf("in_progress: %d\n", stats.InProgress)
	fmt.Printf("completed:   %d\n", stats.Completed)
	fmt.Printf("failed:      %d\n", stats.Failed)
	fmt.Printf("total:       %d\n", total)
	return nil
}
