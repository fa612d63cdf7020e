package config

// Config is the single resolved value passed to each component constructor
// (spec.md §9: "Implicit global config becomes a single resolved Config
// value... processes log the resolved values at startup"). Field names
// mirror the dotted keys from spec.md §6's config file description. Both
// struct tags are kept in step: mapstructure drives viper's decode, json
// drives Save's template output for `init-config`.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database" json:"database"`
	Project      ProjectConfig      `mapstructure:"project" json:"project"`
	Safety       SafetyConfig       `mapstructure:"safety" json:"safety"`
	Workers      WorkersConfig      `mapstructure:"workers" json:"workers"`
	Coordination CoordinationConfig `mapstructure:"coordination" json:"coordination"`
	Executor     ExecutorConfig     `mapstructure:"executor" json:"executor"`
	Verification VerificationConfig `mapstructure:"verification" json:"verification"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

type ProjectConfig struct {
	Name string `mapstructure:"name" json:"name"`
	Root string `mapstructure:"root" json:"root"`
}

type SafetyConfig struct {
	AllowExternalDirs bool `mapstructure:"allow_external_dirs" json:"allow_external_dirs"`
}

type WorkersConfig struct {
	DefaultCount       int `mapstructure:"default_count" json:"default_count"`
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds" json:"idle_timeout_seconds"`
}

type CoordinationConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	SharedDB string `mapstructure:"shared_db" json:"shared_db"`
}

// ExecutorConfig is an [EXPANSION]: the executor CLI invocation (internal/
// executor.Config) needs somewhere to be configured per deployment, beyond
// what spec.md §6 enumerates for the database/project/safety/workers keys.
type ExecutorConfig struct {
	Command      string `mapstructure:"command" json:"command"`
	Model        string `mapstructure:"model" json:"model"`
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`
}

// VerificationConfig is an [EXPANSION] for the same reason: the auto-detect
// hook assembly in internal/verify needs configured lint/test commands.
type VerificationConfig struct {
	LintCommand string `mapstructure:"lint_command" json:"lint_command"`
	TestCommand string `mapstructure:"test_command" json:"test_command"`
}
