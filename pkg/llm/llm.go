// Package llm provides the chat-provider contract spoken by the planner,
// reviewer and conversation agents, plus OpenAI-compatible HTTP clients
// sharing one retry policy.
package llm

import "context"

// DefaultTemperature is used when the caller does not pick one.
const DefaultTemperature = 0.2

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Meta describes how a completion was obtained. Attempts counts every HTTP
// exchange including the successful one.
type Meta struct {
	Provider    string
	Model       string
	Attempts    int
	Temperature float64
	Usage       *Usage
	RequestID   string
	StatusCode  int
}

// Doc renders the metadata the way pipeline events embed it under the
// "llm" payload key.
func (m Meta) Doc() map[string]any {
	doc := map[string]any{
		"provider":    m.Provider,
		"model":       m.Model,
		"attempts":    m.Attempts,
		"temperature": m.Temperature,
	}
	if m.Usage != nil {
		doc["usage"] = map[string]any{
			"prompt_tokens":     m.Usage.PromptTokens,
			"completion_tokens": m.Usage.CompletionTokens,
			"total_tokens":      m.Usage.TotalTokens,
		}
	}
	if m.RequestID != "" {
		doc["request_id"] = m.RequestID
	}
	if m.StatusCode != 0 {
		doc["status_code"] = m.StatusCode
	}
	return doc
}

// Options control a single chat call. MaxTokens zero leaves the provider
// default in place.
type Options struct {
	Temperature float64
	MaxTokens   int
	Retries     int
}

// DefaultOptions returns the options agents start from.
func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature}
}

// ChatProvider issues one chat completion and reports call metadata.
type ChatProvider interface {
	ChatWithMeta(ctx context.Context, messages []Message, opts Options) (string, Meta, error)
}
