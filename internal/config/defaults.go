package config

import "time"

// Config file names searched in the working directory.
const (
	ConfigFileName    = "datalens.yaml"
	ConfigFileNameAlt = "datalens.yml"
)

// EnvPrefix prefixes environment overrides; "__" separates nesting levels,
// so DATALENS_SERVER__ADDR sets server.addr.
const EnvPrefix = "DATALENS_"

// Default configuration values.
const (
	DefaultAddr            = ":8000"
	DefaultUploadDir       = "uploads"
	DefaultMaxUploadMB     = 50
	DefaultShutdownTimeout = 10 * time.Second

	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultMaxTokens  = 4096
	DefaultMaxRetries = 2
	DefaultLLMTimeout = 60 * time.Second
	DefaultSampleRows = 3

	DefaultSandboxTimeout  = 10 * time.Second
	DefaultSandboxMaxSteps = 50_000_000

	DefaultIdleTTL     = time.Hour
	DefaultJournalPath = ".datalens/journal.db"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultOutput    = "auto" // text on a terminal, json otherwise
)

// defaults is the base layer of every load.
func defaults() map[string]any {
	return map[string]any{
		"server.addr":             DefaultAddr,
		"server.upload_dir":       DefaultUploadDir,
		"server.max_upload_mb":    DefaultMaxUploadMB,
		"server.cors_origins":     []string{"*"},
		"server.shutdown_timeout": DefaultShutdownTimeout,

		"llm.model":       DefaultModel,
		"llm.max_tokens":  DefaultMaxTokens,
		"llm.max_retries": DefaultMaxRetries,
		"llm.timeout":     DefaultLLMTimeout,
		"llm.sample_rows": DefaultSampleRows,

		"sandbox.timeout":   DefaultSandboxTimeout,
		"sandbox.max_steps": DefaultSandboxMaxSteps,

		"profile.top_values":              10,
		"profile.low_cardinality":         20,
		"profile.missing_warning_percent": 50.0,
		"profile.sample_rows":             5,
		"profile.stats_precision":         4,
		"profile.identifier_types":        []string{"string"},

		"sessions.idle_ttl": DefaultIdleTTL,
		"journal.path":      DefaultJournalPath,

		"log.level":  DefaultLogLevel,
		"log.format": DefaultLogFormat,
		"output":     DefaultOutput,
	}
}
