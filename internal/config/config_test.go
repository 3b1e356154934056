package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a fresh directory so no stray datalens.yaml is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ANTHROPIC_API_KEY", "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes())
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.Equal(t, int64(DefaultMaxTokens), cfg.LLM.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, uint64(50_000_000), cfg.Sandbox.MaxSteps)
	assert.Equal(t, 20, cfg.Profile.LowCardinality)
	assert.InDelta(t, 50.0, cfg.Profile.MissingWarningPercent, 0)
	assert.Equal(t, []string{"string"}, cfg.Profile.IdentifierTypes)
	assert.Equal(t, time.Hour, cfg.Sessions.IdleTTL)
	assert.Equal(t, DefaultJournalPath, cfg.Journal.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Output)
	assert.Empty(t, cfg.File)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestLoad_Precedence(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`
server:
  addr: ":9000"
  cors_origins: ["http://localhost:3000"]
llm:
  model: file-model
  timeout: 30s
sandbox:
  max_steps: 1000
duckdb:
  settings:
    threads: "2"
log:
  level: DEBUG
`), 0o600))

	t.Setenv("ANTHROPIC_API_KEY", "from-anthropic")
	t.Setenv("DATALENS_LLM__MODEL", "env-model")
	t.Setenv("DATALENS_SERVER__CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DATALENS_SESSIONS__IDLE_TTL", "5m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("model", "", "")
	flags.String("addr", DefaultAddr, "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--model", "flag-model", "--unrelated", "x"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, ConfigFileName, cfg.File)
	assert.Equal(t, ":9000", cfg.Server.Addr, "unset flag must not override the file")
	assert.Equal(t, "flag-model", cfg.LLM.Model)
	assert.Equal(t, "from-anthropic", cfg.LLM.APIKey)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, uint64(1000), cfg.Sandbox.MaxSteps)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, map[string]string{"threads": "2"}, cfg.DuckDB.Settings)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	chdir(t)
	t.Setenv("ANTHROPIC_API_KEY", "generic")
	t.Setenv("DATALENS_LLM__API_KEY", "specific")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "specific", cfg.LLM.APIKey)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal:\n  path: \"\"\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Empty(t, cfg.Journal.Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	chdir(t)
	t.Setenv("DATALENS_LOG__FORMAT", "xml")
	t.Setenv("DATALENS_SANDBOX__TIMEOUT", "0s")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "sandbox.timeout")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:  ServerConfig{Addr: ":8000", MaxUploadMB: 1},
			LLM:     LLMConfig{MaxTokens: 1, Timeout: time.Second},
			Sandbox: SandboxConfig{Timeout: time.Second, MaxSteps: 1},
			Profile: ProfileConfig{MissingWarningPercent: 50},
			Log:     LogConfig{Level: "info", Format: "text"},
			Output:  "auto",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"upload limit", func(c *Config) { c.Server.MaxUploadMB = 0 }, "server.max_upload_mb"},
		{"retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "llm.max_retries"},
		{"steps", func(c *Config) { c.Sandbox.MaxSteps = 0 }, "sandbox.max_steps"},
		{"missing percent", func(c *Config) { c.Profile.MissingWarningPercent = 120 }, "missing_warning_percent"},
		{"idle ttl", func(c *Config) { c.Sessions.IdleTTL = -time.Second }, "sessions.idle_ttl"},
		{"level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"output", func(c *Config) { c.Output = "yaml" }, "output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	key, val := envKey("DATALENS_SERVER__MAX_UPLOAD_MB", "10")
	assert.Equal(t, "server.max_upload_mb", key)
	assert.Equal(t, "10", val)

	key, val = envKey("DATALENS_PROFILE__IDENTIFIER_TYPES", "string,int64")
	assert.Equal(t, "profile.identifier_types", key)
	assert.Equal(t, []string{"string", "int64"}, val)

	key, _ = envKey("DATALENS_", "x")
	assert.Empty(t, key)
}
