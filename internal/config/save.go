package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists cfg as indented JSON at path, creating parent directories
// as needed, following the teacher's config.Save convention.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Template returns the config template init-config writes out: the
// built-in defaults, so a freshly initialized project starts from a file
// that documents every key spec.md §6 names.
func Template() *Config {
	return DefaultConfig()
}
