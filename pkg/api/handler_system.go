package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthzHandler handles GET /healthz. Only the service's own components
// are checked; external MCP servers and the model provider stay out so a
// flaky upstream never restarts the orchestrator.
func (s *Server) healthzHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := map[string]string{}

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, map[string]any{
		"status":  status,
		"version": version.Full(),
		"checks":  checks,
	})
}

const redactedValue = "[redacted]"

// configHandler handles GET /api/config: the effective configuration
// with every credential replaced.
func (s *Server) configHandler(c *echo.Context) error {
	cfg := s.cfg

	llmDoc := map[string]any{
		"provider": cfg.LLM.Provider,
		"base_url": cfg.LLM.BaseURL,
		"model":    cfg.LLM.Model,
		"retries":  cfg.LLM.RetryCount(),
		"max_rows": cfg.LLM.ExcerptRows(),
	}
	if cfg.LLM.APIKey != "" {
		llmDoc["api_key"] = redactedValue
	}

	security := map[string]any{
		"protect_get": cfg.Security.ProtectGet,
	}
	if cfg.Security.AdminToken != "" {
		security["admin_token"] = redactedValue
	}
	if cfg.Security.BasicAuth != nil {
		security["basic_auth"] = map[string]any{
			"user": cfg.Security.BasicAuth.User,
			"pass": redactedValue,
		}
	}
	if len(cfg.Security.IPAllowlist) > 0 {
		security["ip_allowlist"] = cfg.Security.IPAllowlist
	}

	servers := make([]map[string]any, 0, len(cfg.MCP.Servers))
	for _, srv := range cfg.MCP.Servers {
		servers = append(servers, map[string]any{
			"id":        srv.ID,
			"transport": srv.Transport,
			"command":   srv.Command,
			"url":       srv.URL,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ok":      true,
		"version": version.Full(),
		"stats":   cfg.Stats(),
		"config": map[string]any{
			"defaults": cfg.Defaults,
			"llm":      llmDoc,
			"outbox": map[string]any{
				"backend":      cfg.Outbox.Backend,
				"sqlite_path":  cfg.Outbox.SQLitePath,
				"episodes_dir": cfg.Outbox.EpisodesDir,
			},
			"mcp": map[string]any{
				"servers":        servers,
				"require_remote": cfg.MCP.RequireRemote,
				"cache_ttl_sec":  cfg.MCP.CacheTTLSec,
			},
			"agent": map[string]any{
				"auto_proceed": cfg.Agent.AutoProceedEnabled(),
				"react_loops":  cfg.Agent.ReactLoops,
			},
			"workspace": map[string]any{
				"root":           s.files.Root(),
				"allow_suffixes": cfg.Workspace.AllowSuffixes,
			},
			"security": security,
			"server": map[string]any{
				"addr":         cfg.Server.Addr,
				"chat_db_path": cfg.Server.ChatDBPath,
			},
		},
	})
}
