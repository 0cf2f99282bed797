package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitializeDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, "llm", cfg.Defaults.Planner)
	assert.Equal(t, "llm", cfg.Defaults.Reviser)
	assert.Equal(t, ProviderOpenRouter, cfg.LLM.Provider)
	assert.Equal(t, "qwen/qwen3-next-80b-a3b-thinking", cfg.LLM.Model)
	assert.Equal(t, BackendJSON, cfg.Outbox.Backend)
	assert.Equal(t, "episodes", cfg.Outbox.EpisodesDir)
	assert.Equal(t, 80, cfg.LLM.ExcerptRows())
	assert.Equal(t, 1, cfg.LLM.RetryCount())
	assert.Equal(t, 120000, cfg.Guardian.TimeoutMS)
	assert.Equal(t, 512, cfg.Workspace.MaxReadSizeKB)
	assert.True(t, cfg.Agent.AutoProceedEnabled())
	assert.True(t, cfg.Risk.CheckSkillsEnabled())
	assert.InDelta(t, 180.0, cfg.MCP.CacheTTLSec, 1e-9)
}

func TestInitializeMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"provider": "openai", "model": "gpt-4o-mini", "retries": 3},
		"outbox": {"backend": "sqlite", "sqlite_path": "runs.db"},
		"agent": {"auto_proceed": false},
		"risk": {"check_skills": false}
	}`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.RetryCount())
	assert.Equal(t, BackendSQLite, cfg.Outbox.Backend)
	assert.Equal(t, "runs.db", cfg.Outbox.SQLitePath)

	// Untouched sections keep their defaults.
	assert.Equal(t, "llm", cfg.Defaults.Critic)
	assert.Equal(t, 80, cfg.LLM.ExcerptRows())
	assert.InDelta(t, 0.6, cfg.LLM.Temperature.ExecutorValue(), 1e-9)

	// Explicit false survives the merge.
	assert.False(t, cfg.Agent.AutoProceedEnabled())
	assert.False(t, cfg.Risk.CheckSkillsEnabled())
}

func TestInitializeHonorsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"retries": 0, "temperature": {"planner": 0.0, "executor": 0.0}}
	}`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.LLM.RetryCount())
	assert.InDelta(t, 0.0, cfg.LLM.Temperature.PlannerValue(), 1e-9)
	assert.InDelta(t, 0.0, cfg.LLM.Temperature.ExecutorValue(), 1e-9)

	// Unmentioned knobs keep their defaults.
	assert.Equal(t, 80, cfg.LLM.ExcerptRows())
	assert.InDelta(t, 0.4, cfg.LLM.Temperature.ReviserValue(), 1e-9)
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_CFG_TOKEN", "tok-12345")
	path := writeConfig(t, `{"security": {"admin_token": "{{.TEST_CFG_TOKEN}}"}}`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "tok-12345", cfg.Security.AdminToken)
}

func TestInitializeAdminTokenEnvFallback(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	cfg, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Security.AdminToken)
}

func TestInitializeRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"llm": `)

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJSON)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, path, loadErr.File)
}

func TestInitializeMCPServers(t *testing.T) {
	path := writeConfig(t, `{
		"mcp": {
			"servers": [
				{"id": "api", "transport": "streamable-http", "url": "http://127.0.0.1:3001/mcp"},
				{"id": "local", "transport": "stdio", "command": "mcp-tool", "args": ["--fast"]}
			],
			"require_remote": true
		}
	}`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, cfg.MCP.Servers, 2)
	assert.Equal(t, "api", cfg.MCP.DefaultServer())
	assert.True(t, cfg.MCP.RequireRemote)

	s, ok := cfg.MCP.Server("local")
	require.True(t, ok)
	assert.Equal(t, TransportStdio, s.Transport)
	assert.Equal(t, []string{"--fast"}, s.Args)

	_, ok = cfg.MCP.Server("nope")
	assert.False(t, ok)
}
