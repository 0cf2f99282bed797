package config

// Default returns the compiled-in configuration. A user config file is
// deep-merged over this, so every field here must be safe for a bare
// checkout with no config.json present.
func Default() *Config {
	return &Config{
		Defaults: RoleDefaults{
			Planner:  "llm",
			Executor: "llm",
			Critic:   "llm",
			Reviser:  "llm",
		},
		LLM: LLMConfig{
			Provider:          "openrouter",
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "qwen/qwen3-next-80b-a3b-thinking",
			IntakeTemperature: 0.2,
		},
		Outbox: OutboxConfig{
			Backend:     BackendJSON,
			SQLitePath:  "episodes.db",
			EpisodesDir: "episodes",
		},
		Risk: RiskConfig{
			RegistryPath: "skills/registry.json",
		},
		Scoreboard: ScoreboardConfig{
			EpisodesDir: "episodes",
		},
		Prompts: PromptsConfig{
			Dir: "prompts",
		},
		MCP: MCPConfig{
			CacheTTLSec: 180,
		},
		Agent: AgentConfig{
			ReactLoops: 2,
		},
		Workspace: WorkspaceConfig{
			AllowSuffixes:  []string{".md", ".txt", ".json", ".yaml", ".yml", ".py", ".csv"},
			MaxReadSizeKB:  512,
			MaxWriteSizeKB: 512,
		},
		Server: ServerConfig{
			Addr:       ":8000",
			ChatDBPath: "chat.db",
		},
		Guardian: GuardianConfig{
			TimeoutMS: 120000,
		},
	}
}

// Defaults for the optional LLM knobs. They live behind the accessors on
// LLMConfig and Temperatures rather than in Default(), so a file that
// sets an explicit zero is not confused with one that says nothing.
const (
	defaultTempPlanner  = 0.2
	defaultTempExecutor = 0.6
	defaultTempCritic   = 0.0
	defaultTempReviser  = 0.4
	defaultRetries      = 1
	defaultMaxRows      = 80
)

// Outbox backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// LLM providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// MCP transports.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)
