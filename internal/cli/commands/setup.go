// Package commands implements the DataLens CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/datalens/internal/adapter"
	"github.com/leapstack-labs/datalens/internal/cli/config"
	"github.com/leapstack-labs/datalens/internal/cli/output"
	intconfig "github.com/leapstack-labs/datalens/internal/config"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/llm"
	"github.com/leapstack-labs/datalens/internal/profile"
	"github.com/leapstack-labs/datalens/internal/query"
	"github.com/leapstack-labs/datalens/internal/service"
	"github.com/spf13/cobra"
)

// noAPIKey is reported by the model client when no key is configured.
const noAPIKey = "no API key configured; set ANTHROPIC_API_KEY or llm.api_key"

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *intconfig.Config
	Logger   *slog.Logger
	Service  *service.Service
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a running service.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg, err := config.GetConfig(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	logger := config.GetLogger(cmd.Context())

	svc, err := service.New(cmd.Context(), ServiceConfig(cfg, newModel(cfg.LLM, logger), logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start service: %w", err)
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to close service", "error", err)
		}
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Service:  svc,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, cleanup, nil
}

// newModel is replaced in tests.
var newModel = NewModel

// NewModel returns the Anthropic client, or a client that fails every call
// when no API key is configured so profiling still works offline.
func NewModel(cfg intconfig.LLMConfig, logger *slog.Logger) llm.Client {
	if cfg.APIKey == "" {
		return llm.ClientFunc(func(context.Context, string, string) (string, error) {
			return "", &llm.ServiceError{Message: noAPIKey}
		})
	}
	return llm.NewAnthropic(llm.AnthropicConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		BaseURL:    cfg.BaseURL,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})
}

// ServiceConfig maps the loaded configuration onto a service configuration.
func ServiceConfig(cfg *intconfig.Config, model llm.Client, logger *slog.Logger) service.Config {
	idTypes := make([]dataset.DType, len(cfg.Profile.IdentifierTypes))
	for i, t := range cfg.Profile.IdentifierTypes {
		idTypes[i] = dataset.DType(t)
	}

	return service.Config{
		Model: model,
		Profile: profile.Options{
			TopValues:             cfg.Profile.TopValues,
			LowCardinality:        cfg.Profile.LowCardinality,
			MissingWarningPercent: cfg.Profile.MissingWarningPercent,
			SampleRows:            cfg.Profile.SampleRows,
			StatsPrecision:        cfg.Profile.StatsPrecision,
			IdentifierTypes:       idTypes,
		},
		Query: query.Options{
			ModelTimeout: cfg.LLM.Timeout,
			SampleRows:   cfg.LLM.SampleRows,
		},
		SandboxTimeout:  cfg.Sandbox.Timeout,
		SandboxMaxSteps: cfg.Sandbox.MaxSteps,
		IdleTTL:         cfg.Sessions.IdleTTL,
		JournalPath:     cfg.Journal.Path,
		DuckDB:          adapter.Config{Settings: cfg.DuckDB.Settings},
		Logger:          logger,
	}
}

// ingest loads a local file into a new session.
func (c *CommandContext) ingest(ctx context.Context, path string) (string, *profile.DataProfile, error) {
	id, prof, err := c.Service.IngestFile(ctx, path, filepath.Base(path))
	if err != nil {
		return "", nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return id, prof, nil
}
