package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
)

// DefaultPath is the config file consulted when no path is given.
const DefaultPath = "config.json"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the JSON config file (absence is not an error; defaults apply)
//  2. Expand environment variables
//  3. Deep-merge the file over compiled defaults
//  4. Fill secret fields from the environment
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	log := slog.With("config_file", path)

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"provider", stats.Provider,
		"model", stats.Model,
		"outbox_backend", stats.OutboxBackend,
		"mcp_servers", stats.MCPServers)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fillFromEnv(cfg)
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	var fileCfg Config
	if err := json.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidJSON, err))
	}

	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, NewLoadError(path, err)
	}
	cfg.path = path
	fillFromEnv(cfg)
	return cfg, nil
}

// fillFromEnv populates secret-bearing fields left empty by the file.
func fillFromEnv(cfg *Config) {
	if cfg.Security.AdminToken == "" {
		cfg.Security.AdminToken = os.Getenv("ADMIN_TOKEN")
	}
}
