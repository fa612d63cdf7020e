package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// dashboardCmd points at the external read-only dashboard (spec.md §1:
// "a read-only dashboard view... treated as thin clients of the queue";
// SPEC_FULL.md §4.5: "the full interactive dashboard is out of scope...
// and prints a pointer to the external tool"). The core here is the
// durable queue, worker runtime, and coordinator; a dashboard only needs
// read access to the same store this CLI already resolves.
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the read-only dashboard view (external tool)",
	RunE:  runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Println("the interactive dashboard is a separate, external tool.")
	fmt.Printf("point it at the resolved store: %s\n", resolvedDBPath(cfg))
	fmt.Println("in the meantime, `klauss workers --watch` and `klauss stats` give a read-only view from here.")
	return nil
}
