// Command klauss is the management CLI described in spec.md §6: a thin
// Cobra client over internal/queue, internal/orchestrator, and
// internal/supervisor, plus the hidden self-exec entry point workers use to
// become internal/worker.Run. Grounded on the teacher's cmd/orchestrator/
// main.go signal-handling idiom and ShayCichocki-Alphie's cmd/alphie
// command-tree layout (one file per subcommand, package-level flag vars,
// rootCmd.AddCommand wiring in init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDBPath     string
	flagConfigPath string
	flagProjectRoot string
)

var rootCmd = &cobra.Command{
	Use:   "klauss",
	Short: "Parallel task orchestrator for executor-CLI agents",
	Long: `klauss decomposes a high-level goal into many small executable
tasks, persists them in a shared durable queue, and runs a pool of
independent worker processes that claim, execute, verify, and complete
those tasks concurrently.`,
	SilenceUsage: true,
}

// Execute runs the root command. An error built with fatalConfig exits 2;
// every other error exits 1, including operational failures that are not
// marked with fatalConfig (a failed store query, for example).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if fc, ok := err.(*fatalConfigError); ok {
			fmt.Fprintln(os.Stderr, fc.Error())
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the store database (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", "", "project root directory (default: current directory)")

	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(submitFileCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(workerCmd)
}

func main() {
	Execute()
}
