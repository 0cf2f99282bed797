package llm

// ProviderConfig selects and parameterizes a chat client. Empty fields
// fall back to the provider's environment variables.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Seed     *int
}

// NewRouter returns the client for cfg.Provider. Anything other than
// "openai" routes to OpenRouter, the default provider.
func NewRouter(cfg ProviderConfig) (*Client, error) {
	if cfg.Provider == ProviderOpenAI {
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	}
	return NewOpenRouter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Seed)
}
