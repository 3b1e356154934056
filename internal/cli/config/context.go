// Package config carries the loaded configuration and logger through the
// command context, so the commands package can reach them without importing
// the root command.
package config

import (
	"context"
	"io"
	"log/slog"

	intconfig "github.com/leapstack-labs/datalens/internal/config"
)

type configKey struct{}

type loggerKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *intconfig.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the configuration from ctx, loading defaults, the
// working directory's config file and the environment when none is set.
func GetConfig(ctx context.Context) (*intconfig.Config, error) {
	if cfg, ok := ctx.Value(configKey{}).(*intconfig.Config); ok && cfg != nil {
		return cfg, nil
	}
	return intconfig.Load("", nil)
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from ctx.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the process logger from the log settings.
func NewLogger(w io.Writer, cfg intconfig.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
