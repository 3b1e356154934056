// Package config defines the DataLens configuration and loads it from
// defaults, an optional YAML file, DATALENS_ environment variables and
// command-line flags, in increasing order of precedence.
package config

import "time"

// Config holds every setting of the server and the CLI.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	LLM      LLMConfig      `koanf:"llm"`
	Sandbox  SandboxConfig  `koanf:"sandbox"`
	Profile  ProfileConfig  `koanf:"profile"`
	Sessions SessionsConfig `koanf:"sessions"`
	Journal  JournalConfig  `koanf:"journal"`
	DuckDB   DuckDBConfig   `koanf:"duckdb"`
	Log      LogConfig      `koanf:"log"`

	// Output is the CLI output format: auto, text or json.
	Output string `koanf:"output"`

	// File is the config file that was loaded, empty when none was.
	File string `koanf:"-"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	UploadDir       string        `koanf:"upload_dir"`
	MaxUploadMB     int           `koanf:"max_upload_mb"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// LLMConfig configures the language-model client.
type LLMConfig struct {
	APIKey     string        `koanf:"api_key"`
	Model      string        `koanf:"model"`
	MaxTokens  int64         `koanf:"max_tokens"`
	BaseURL    string        `koanf:"base_url"`
	MaxRetries int           `koanf:"max_retries"`
	Timeout    time.Duration `koanf:"timeout"`
	SampleRows int           `koanf:"sample_rows"`
}

// SandboxConfig bounds snippet execution.
type SandboxConfig struct {
	Timeout  time.Duration `koanf:"timeout"`
	MaxSteps uint64        `koanf:"max_steps"`
}

// ProfileConfig holds the profiling heuristics.
type ProfileConfig struct {
	TopValues             int      `koanf:"top_values"`
	LowCardinality        int      `koanf:"low_cardinality"`
	MissingWarningPercent float64  `koanf:"missing_warning_percent"`
	SampleRows            int      `koanf:"sample_rows"`
	StatsPrecision        int      `koanf:"stats_precision"`
	IdentifierTypes       []string `koanf:"identifier_types"`
}

// SessionsConfig controls session lifetime.
type SessionsConfig struct {
	// IdleTTL removes sessions idle for this long; 0 keeps them forever.
	IdleTTL time.Duration `koanf:"idle_ttl"`
}

// JournalConfig locates the query journal. An empty path disables it.
type JournalConfig struct {
	Path string `koanf:"path"`
}

// DuckDBConfig holds settings applied to the decoding connection,
// e.g. threads or memory_limit.
type DuckDBConfig struct {
	Settings map[string]string `koanf:"settings"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
