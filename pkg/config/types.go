// Package config loads and validates the process configuration: a JSON
// file deep-merged over compiled defaults, with environment expansion for
// secret-bearing fields.
package config

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application.
type Config struct {
	path string // loaded file path (for reference)

	Defaults   RoleDefaults     `json:"defaults"`
	LLM        LLMConfig        `json:"llm"`
	Outbox     OutboxConfig     `json:"outbox"`
	Risk       RiskConfig       `json:"risk"`
	Scoreboard ScoreboardConfig `json:"scoreboard"`
	Prompts    PromptsConfig    `json:"prompts"`
	MCP        MCPConfig        `json:"mcp"`
	Agent      AgentConfig      `json:"agent"`
	Workspace  WorkspaceConfig  `json:"workspace"`
	Security   SecurityConfig   `json:"security"`
	Server     ServerConfig     `json:"server"`
	Guardian   GuardianConfig   `json:"guardian"`
}

// RoleDefaults selects the implementation name per pipeline role.
type RoleDefaults struct {
	Planner  string `json:"planner"`
	Executor string `json:"executor"`
	Critic   string `json:"critic"`
	Reviser  string `json:"reviser"`
}

// Temperatures are the per-role sampling temperatures. Pointer fields
// keep an explicit 0.0 in the file distinguishable from an absent slot,
// the same way the optional bools work; read them through the *Value
// accessors.
type Temperatures struct {
	Planner  *float64 `json:"planner,omitempty"`
	Executor *float64 `json:"executor,omitempty"`
	Critic   *float64 `json:"critic,omitempty"`
	Reviser  *float64 `json:"reviser,omitempty"`
}

// PlannerValue returns the planner temperature, defaulting to 0.2.
func (t Temperatures) PlannerValue() float64 { return floatOr(t.Planner, defaultTempPlanner) }

// ExecutorValue returns the executor temperature, defaulting to 0.6.
func (t Temperatures) ExecutorValue() float64 { return floatOr(t.Executor, defaultTempExecutor) }

// CriticValue returns the critic temperature, defaulting to 0.0.
func (t Temperatures) CriticValue() float64 { return floatOr(t.Critic, defaultTempCritic) }

// ReviserValue returns the reviser temperature, defaulting to 0.4.
func (t Temperatures) ReviserValue() float64 { return floatOr(t.Reviser, defaultTempReviser) }

// LLMConfig parameterizes the chat-completion provider. Retries and
// MaxRows are pointers for the same explicit-zero reason as Temperatures;
// read them through RetryCount and ExcerptRows.
type LLMConfig struct {
	Provider          string       `json:"provider"`
	BaseURL           string       `json:"base_url"`
	Model             string       `json:"model"`
	APIKey            string       `json:"api_key,omitempty"`
	Temperature       Temperatures `json:"temperature"`
	IntakeTemperature float64      `json:"intake_temperature,omitempty"`
	Retries           *int         `json:"retries,omitempty"`
	MaxRows           *int         `json:"max_rows,omitempty"`
	Seed              *int         `json:"seed,omitempty"`
}

// RetryCount returns the LLM retry budget, defaulting to 1.
func (l LLMConfig) RetryCount() int { return intOr(l.Retries, defaultRetries) }

// ExcerptRows returns the CSV excerpt row cap, defaulting to 80.
func (l LLMConfig) ExcerptRows() int { return intOr(l.MaxRows, defaultMaxRows) }

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// OutboxConfig selects the episode store backend.
type OutboxConfig struct {
	Backend     string `json:"backend"`
	SQLitePath  string `json:"sqlite_path"`
	EpisodesDir string `json:"episodes_dir"`
}

// RiskConfig gates optional safety checks before execution.
type RiskConfig struct {
	CheckSkills  *bool  `json:"check_skills,omitempty"`
	RegistryPath string `json:"registry_path"`
}

// CheckSkillsEnabled reports whether skill registry verification runs
// before the local executor. Defaults to on.
func (r RiskConfig) CheckSkillsEnabled() bool {
	return r.CheckSkills == nil || *r.CheckSkills
}

// ScoreboardConfig locates the episode corpus scanned for scores.
type ScoreboardConfig struct {
	EpisodesDir string `json:"episodes_dir"`
}

// PromptsConfig locates the prompt template directory.
type PromptsConfig struct {
	Dir string `json:"dir"`
}

// MCPServerConfig describes one MCP server endpoint. Transport is
// "stdio" (Command/Args/Env) or "streamable-http" (URL).
type MCPServerConfig struct {
	ID        string            `json:"id"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// MCPConfig lists the reachable MCP servers and fallback policy.
type MCPConfig struct {
	Servers       []MCPServerConfig `json:"servers,omitempty"`
	RequireRemote bool              `json:"require_remote"`
	CacheTTLSec   float64           `json:"cache_ttl_sec"`
}

// DefaultServer returns the id of the first configured server, or "api"
// when none is configured.
func (m MCPConfig) DefaultServer() string {
	if len(m.Servers) > 0 && m.Servers[0].ID != "" {
		return m.Servers[0].ID
	}
	return "api"
}

// Server returns the configuration for the given server id.
func (m MCPConfig) Server(id string) (*MCPServerConfig, bool) {
	for i := range m.Servers {
		if m.Servers[i].ID == id {
			return &m.Servers[i], true
		}
	}
	return nil, false
}

// AgentConfig tunes the conversational agent loop.
type AgentConfig struct {
	AutoProceed *bool `json:"auto_proceed,omitempty"`
	ReactLoops  int   `json:"react_loops"`
}

// AutoProceedEnabled reports whether the chat agent may chain tool calls
// without pausing for confirmation. Defaults to on.
func (a AgentConfig) AutoProceedEnabled() bool {
	return a.AutoProceed == nil || *a.AutoProceed
}

// WorkspaceConfig bounds the file API.
type WorkspaceConfig struct {
	Root           string   `json:"root"`
	AllowSuffixes  []string `json:"allow_suffixes"`
	MaxReadSizeKB  int      `json:"max_read_size_kb"`
	MaxWriteSizeKB int      `json:"max_write_size_kb"`
}

// BasicAuthConfig is an optional username/password pair for the admin guard.
type BasicAuthConfig struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// SecurityConfig configures the admin guard. With no token and no basic
// auth configured, admin endpoints are open (local development posture).
type SecurityConfig struct {
	AdminToken  string           `json:"admin_token,omitempty"`
	BasicAuth   *BasicAuthConfig `json:"basic_auth,omitempty"`
	IPAllowlist []string         `json:"ip_allowlist,omitempty"`
	ProtectGet  bool             `json:"protect_get"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr       string `json:"addr"`
	ChatDBPath string `json:"chat_db_path"`
}

// GuardianConfig bounds each pipeline run.
type GuardianConfig struct {
	TimeoutMS int `json:"timeout_ms"`
}

// Path returns the configuration file path this Config was loaded from,
// or "" when only defaults are in effect.
func (c *Config) Path() string {
	return c.path
}

// Stats contains summary statistics about the loaded configuration.
type Stats struct {
	MCPServers    int
	Provider      string
	Model         string
	OutboxBackend string
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	return Stats{
		MCPServers:    len(c.MCP.Servers),
		Provider:      c.LLM.Provider,
		Model:         c.LLM.Model,
		OutboxBackend: c.Outbox.Backend,
	}
}
