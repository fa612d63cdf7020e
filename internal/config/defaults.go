package config

// DefaultConfig returns the built-in configuration used when no flag, env
// var, or config file overrides a given key, following the teacher's
// DefaultConfig convention of a single fully-populated baseline struct.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: ".klauss/klauss.db",
		},
		Project: ProjectConfig{
			Name: "klauss",
			Root: ".",
		},
		Safety: SafetyConfig{
			AllowExternalDirs: false,
		},
		Workers: WorkersConfig{
			DefaultCount:       4,
			IdleTimeoutSeconds: 300,
		},
		Coordination: CoordinationConfig{
			Enabled:  false,
			SharedDB: "",
		},
		Executor: ExecutorConfig{
			Command: "claude",
		},
		Verification: VerificationConfig{
			LintCommand: "npm run lint",
			TestCommand: "npm test",
		},
	}
}
