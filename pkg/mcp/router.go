package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/agentos-io/agentcore/pkg/config"
)

// Origin reports which side served a tool call or catalog.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// Router is the single entry point for tool calls: remote server first,
// local fallback when the remote side fails, unless require_remote pins
// execution to real servers.
type Router struct {
	client        *Client
	local         *Local
	requireRemote bool
	defaultServer string
	logger        *slog.Logger
}

// NewRouter wires the remote client and local tool set together under the
// configured fallback policy.
func NewRouter(client *Client, local *Local, cfg config.MCPConfig) *Router {
	return &Router{
		client:        client,
		local:         local,
		requireRemote: cfg.RequireRemote,
		defaultServer: cfg.DefaultServer(),
		logger:        slog.Default(),
	}
}

// DefaultServer returns the server id used when a call names none.
func (r *Router) DefaultServer() string { return r.defaultServer }

// Call executes a tool with the given arguments. The returned Origin tells
// the caller whether the result came from the remote server or the local
// fallback, so surfaces can flag degraded answers.
func (r *Router) Call(ctx context.Context, serverID, tool string, args map[string]any) (*ToolResult, Origin, error) {
	if serverID == "" {
		serverID = r.defaultServer
	}
	tool = NormalizeTool(tool)

	result, err := r.client.CallTool(ctx, serverID, tool, args)
	if err == nil {
		return result, OriginRemote, nil
	}

	if r.requireRemote {
		return nil, OriginRemote, fmt.Errorf("%w: %s.%s: %v", ErrUnavailable, serverID, tool, err)
	}

	r.logger.Warn("Remote MCP call failed, using local fallback",
		"server", serverID, "tool", tool, "error", err)
	return r.local.Call(tool, args), OriginLocal, nil
}

// Tools returns the catalog for a server, sorted by name. When the server
// cannot be reached and fallback is allowed, the local catalog is returned
// with OriginLocal.
func (r *Router) Tools(ctx context.Context, serverID string) ([]ToolInfo, Origin, error) {
	if serverID == "" {
		serverID = r.defaultServer
	}

	tools, err := r.client.ListTools(ctx, serverID)
	if err == nil {
		sorted := make([]ToolInfo, len(tools))
		copy(sorted, tools)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		return sorted, OriginRemote, nil
	}

	if r.requireRemote {
		return nil, OriginRemote, fmt.Errorf("%w: list tools on %q: %v", ErrUnavailable, serverID, err)
	}
	return r.local.Catalog(), OriginLocal, nil
}

// Prompt fetches a named prompt from a server. Prompts have no local
// fallback; an unreachable server surfaces as an error.
func (r *Router) Prompt(ctx context.Context, serverID, name string, args map[string]string) (*PromptResult, error) {
	if serverID == "" {
		serverID = r.defaultServer
	}
	return r.client.GetPrompt(ctx, serverID, name, args)
}
