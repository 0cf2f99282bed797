package config

import (
	"errors"
	"fmt"
)

// validate checks the merged configuration for contradictions the rest of
// the system would only discover at an awkward moment.
func validate(cfg *Config) error {
	var errs []error

	switch cfg.Outbox.Backend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, NewValidationError("outbox", "backend",
			fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, cfg.Outbox.Backend, BackendJSON, BackendSQLite)))
	}
	if cfg.Outbox.Backend == BackendSQLite && cfg.Outbox.SQLitePath == "" {
		errs = append(errs, NewValidationError("outbox", "sqlite_path", ErrMissingRequiredField))
	}

	switch cfg.LLM.Provider {
	case ProviderOpenAI, ProviderOpenRouter:
	default:
		errs = append(errs, NewValidationError("llm", "provider",
			fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, cfg.LLM.Provider, ProviderOpenAI, ProviderOpenRouter)))
	}
	if cfg.LLM.RetryCount() < 0 {
		errs = append(errs, NewValidationError("llm", "retries",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue)))
	}
	if cfg.LLM.ExcerptRows() < 1 {
		errs = append(errs, NewValidationError("llm", "max_rows",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue)))
	}

	seen := make(map[string]bool)
	for i := range cfg.MCP.Servers {
		s := &cfg.MCP.Servers[i]
		if s.ID == "" {
			errs = append(errs, NewValidationError("mcp", "servers.id", ErrMissingRequiredField))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, NewValidationError("mcp", "servers.id",
				fmt.Errorf("%w: duplicate server id %q", ErrInvalidValue, s.ID)))
		}
		seen[s.ID] = true
		switch s.Transport {
		case TransportStdio:
			if s.Command == "" {
				errs = append(errs, NewValidationError("mcp", s.ID,
					fmt.Errorf("%w: stdio transport needs a command", ErrMissingRequiredField)))
			}
		case TransportStreamableHTTP:
			if s.URL == "" {
				errs = append(errs, NewValidationError("mcp", s.ID,
					fmt.Errorf("%w: streamable-http transport needs a url", ErrMissingRequiredField)))
			}
		default:
			errs = append(errs, NewValidationError("mcp", s.ID,
				fmt.Errorf("%w: unknown transport %q", ErrInvalidValue, s.Transport)))
		}
	}

	if cfg.Guardian.TimeoutMS <= 0 {
		errs = append(errs, NewValidationError("guardian", "timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if cfg.Workspace.MaxReadSizeKB <= 0 {
		errs = append(errs, NewValidationError("workspace", "max_read_size_kb",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if cfg.Workspace.MaxWriteSizeKB <= 0 {
		errs = append(errs, NewValidationError("workspace", "max_write_size_kb",
			fmt.Errorf("%w: must be positive", ErrInvalidValue)))
	}
	if cfg.Agent.ReactLoops < 1 {
		errs = append(errs, NewValidationError("agent", "react_loops",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue)))
	}

	return errors.Join(errs...)
}
