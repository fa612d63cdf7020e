package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/klauss/klauss/internal/config"
)

var initConfigForce bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Copy the config template into the current directory",
	Long: `init-config writes config.json in the current directory, populated
with klauss's built-in defaults (spec.md §6). Refuses to overwrite an
existing file unless --force is given.`,
	RunE: runInitConfig,
}

func init() {
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "overwrite an existing config.json")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fatalConfig("resolve working directory: %v", err)
	}
	path := filepath.Join(wd, "config.json")

	if _, err := os.Stat(path); err == nil && !initConfigForce {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}

	cfg := config.Template()
	cfg.Project.Name = filepath.Base(wd)
	cfg.Project.Root = wd

	if err := config.Save(cfg, path); err != nil {
		return fatalConfig("write config template: %v", err)
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}
