// Package mcp provides the MCP (Model Context Protocol) tool layer:
// config-driven client sessions over stdio and streamable HTTP transports,
// tool and prompt catalogs with TTL caching, and a local fallback tool set
// that keeps the system usable with no server reachable.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentos-io/agentcore/pkg/config"
	"github.com/agentos-io/agentcore/pkg/version"
)

// ToolInfo is one catalog entry: the tool name plus its description.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolResult carries both representations a tool call can produce: the
// first text content block and the structured content. Either may be empty.
type ToolResult struct {
	Text       string         `json:"text,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	IsError    bool           `json:"-"`
}

// Doc renders the result as an event payload fragment.
func (r *ToolResult) Doc() map[string]any {
	doc := map[string]any{}
	if r.Text != "" {
		doc["text"] = r.Text
	}
	if r.Structured != nil {
		doc["structured"] = r.Structured
	}
	return doc
}

// PromptResult is a fetched prompt: its name and the joined message texts.
type PromptResult struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type toolCacheEntry struct {
	tools   []ToolInfo
	fetched time.Time
}

type promptCacheEntry struct {
	prompt  *PromptResult
	fetched time.Time
}

// Client manages MCP SDK sessions for the configured servers. Sessions are
// created lazily on first use and recreated after transport failures.
// Thread-safe: chat turns and pipeline steps may call tools concurrently.
type Client struct {
	cfg config.MCPConfig

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // serverID → session
	clients       map[string]*mcpsdk.Client        // serverID → client (for reconnection)
	failedServers map[string]string                // serverID → last error message

	// Catalog and prompt caches, expired by cfg.CacheTTLSec.
	cacheMu     sync.RWMutex
	toolCache   map[string]toolCacheEntry
	promptCache map[string]promptCacheEntry

	// Per-server mutex serializing (re)initialization attempts.
	reinitMu sync.Map // serverID → *sync.Mutex

	logger *slog.Logger
}

// NewClient creates a Client for the configured servers. No connections are
// opened until Initialize or the first call that needs a session.
func NewClient(cfg config.MCPConfig) *Client {
	return &Client{
		cfg:           cfg,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string]toolCacheEntry),
		promptCache:   make(map[string]promptCacheEntry),
		logger:        slog.Default(),
	}
}

func (c *Client) cacheTTL() time.Duration {
	if c.cfg.CacheTTLSec <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.cfg.CacheTTLSec * float64(time.Second))
}

// Initialize connects to every configured server. A failing server is
// recorded in FailedServers and retried lazily on first use, so startup
// never blocks on a dead endpoint.
func (c *Client) Initialize(ctx context.Context) {
	for _, srv := range c.cfg.Servers {
		if err := c.InitializeServer(ctx, srv.ID); err != nil {
			c.mu.Lock()
			c.failedServers[srv.ID] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("MCP server failed to initialize",
				"server", srv.ID, "error", err)
		}
	}
}

// InitializeServer connects to a single server. Returns nil if already
// connected. Uses a per-server mutex to prevent concurrent initialization
// of the same server.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverID)
}

// initializeServerLocked performs the actual connection. Caller must hold
// the per-server reinitMu lock.
func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	// Already connected? Checked under the per-server lock, no TOCTOU race.
	c.mu.RLock()
	if _, exists := c.sessions[serverID]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	srvCfg, ok := c.cfg.Server(serverID)
	if !ok {
		return fmt.Errorf("server %q is not configured", serverID)
	}

	transport, err := createTransport(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it holds resources (stdio child processes).
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", serverID)
	return nil
}

// session returns the active session for a server, connecting lazily when
// none exists yet.
func (c *Client) session(ctx context.Context, serverID string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	s, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return s, nil
	}

	if err := c.InitializeServer(ctx, serverID); err != nil {
		return nil, fmt.Errorf("%w for %q: %v", ErrNoSession, serverID, err)
	}

	c.mu.RLock()
	s, exists = c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w for %q", ErrNoSession, serverID)
	}
	return s, nil
}

// ListTools returns the tool catalog of a server. Results are cached for
// the configured TTL so prompt construction does not hammer servers.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]ToolInfo, error) {
	// Lock ordering: never acquire c.mu while holding cacheMu.
	c.cacheMu.RLock()
	if entry, ok := c.toolCache[serverID]; ok && time.Since(entry.fetched) < c.cacheTTL() {
		c.cacheMu.RUnlock()
		return entry.tools, nil
	}
	c.cacheMu.RUnlock()

	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description})
	}

	c.cacheMu.Lock()
	c.toolCache[serverID] = toolCacheEntry{tools: tools, fetched: time.Now()}
	c.cacheMu.Unlock()

	return tools, nil
}

// CallTool executes a tool on the given server. Transport failures are
// retried once after a jittered backoff, recreating the session when the
// connection itself broke.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*ToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := c.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"server", serverID, "tool", toolName, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverID, err)
		}
	}

	result, err = c.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*ToolResult, error) {
	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	raw, err := session.CallTool(opCtx, params)
	if err != nil {
		return nil, err
	}
	return convertResult(raw), nil
}

// convertResult reduces an SDK result to the text plus structured shape the
// rest of the system consumes. Only the first text block is kept, matching
// how observations are rendered for the model.
func convertResult(raw *mcpsdk.CallToolResult) *ToolResult {
	result := &ToolResult{IsError: raw.IsError}
	for _, content := range raw.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			result.Text = tc.Text
			break
		}
	}
	if sc, ok := raw.StructuredContent.(map[string]any); ok {
		result.Structured = sc
	}
	return result
}

// GetPrompt fetches a prompt from a server and joins its message texts.
// Parameterless prompts are cached like tool catalogs; rendered prompts
// vary per call and are fetched fresh.
func (c *Client) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*PromptResult, error) {
	key := serverID + "\x00" + name
	cacheable := len(args) == 0

	if cacheable {
		c.cacheMu.RLock()
		if entry, ok := c.promptCache[key]; ok && time.Since(entry.fetched) < c.cacheTTL() {
			c.cacheMu.RUnlock()
			return entry.prompt, nil
		}
		c.cacheMu.RUnlock()
	}

	session, err := c.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	raw, err := session.GetPrompt(opCtx, &mcpsdk.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("get prompt %q from %q: %w", name, serverID, err)
	}

	var parts []string
	for _, msg := range raw.Messages {
		if tc, ok := msg.Content.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	prompt := &PromptResult{Name: name, Text: strings.Join(parts, "\n")}

	if cacheable {
		c.cacheMu.Lock()
		c.promptCache[key] = promptCacheEntry{prompt: prompt, fetched: time.Now()}
		c.cacheMu.Unlock()
	}

	return prompt, nil
}

// recreateSession tears down and reconnects a server session. The
// per-server mutex keeps concurrent failures from stampeding; a losing
// racer pays one extra reconnect, which is acceptable.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	c.InvalidateCache(serverID)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, serverID)
}

// InvalidateCache drops the cached catalog and prompts for a server.
func (c *Client) InvalidateCache(serverID string) {
	c.cacheMu.Lock()
	delete(c.toolCache, serverID)
	for key := range c.promptCache {
		if strings.HasPrefix(key, serverID+"\x00") {
			delete(c.promptCache, key)
		}
	}
	c.cacheMu.Unlock()
}

// Close shuts down all sessions and transports.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Lock ordering note: mu → cacheMu is safe because no other code path
	// holds cacheMu while acquiring mu.
	c.cacheMu.Lock()
	c.toolCache = make(map[string]toolCacheEntry)
	c.promptCache = make(map[string]promptCacheEntry)
	c.cacheMu.Unlock()

	return firstErr
}

// HasSession reports whether a server currently has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns the servers whose last connection attempt failed,
// keyed by server id with the error message as value.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		out[k] = v
	}
	return out
}
