package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var cleanForce bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the store file and logs after confirmation",
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "skip the confirmation prompt")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbPath := resolvedDBPath(cfg)
	logsPath := logsDir(cfg)

	if !cleanForce {
		fmt.Printf("this will delete %s and %s. Continue? [y/N] ", dbPath, logsPath)
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("aborted")
			return nil
		}
	}

	for _, ext := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + ext); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s%s: %w", dbPath, ext, err)
		}
	}
	if err := os.RemoveAll(logsPath); err != nil {
		return fmt.Errorf("remove %s: %w", logsPath, err)
	}

	fmt.Println("cleaned")
	return nil
}
