package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted by the router.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

const httpTimeout = 120 * time.Second

// Client talks to one OpenAI-compatible chat completions endpoint.
type Client struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	seed     *int
	httpc    *http.Client
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewOpenAI builds a client for the OpenAI chat completions API. Empty
// arguments fall back to OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL.
func NewOpenAI(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if baseURL == "" {
		baseURL = envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
	}
	if model == "" {
		model = envOr("OPENAI_MODEL", "gpt-4o-mini")
	}
	return &Client{
		provider: ProviderOpenAI,
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		httpc:    &http.Client{Timeout: httpTimeout},
	}, nil
}

// NewOpenRouter builds a client for the OpenRouter API. Empty arguments
// fall back to OPENROUTER_API_KEY, OPENROUTER_BASE_URL, OPENROUTER_MODEL
// and OPENROUTER_SEED.
func NewOpenRouter(apiKey, baseURL, model string, seed *int) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENROUTER_API_KEY is not set")
	}
	if baseURL == "" {
		baseURL = envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	}
	if model == "" {
		model = envOr("OPENROUTER_MODEL", "qwen/qwen3-next-80b-a3b-thinking")
	}
	if seed == nil {
		if v, err := strconv.Atoi(os.Getenv("OPENROUTER_SEED")); err == nil {
			seed = &v
		}
	}
	return &Client{
		provider: ProviderOpenRouter,
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		seed:     seed,
		httpc:    &http.Client{Timeout: httpTimeout},
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Seed        *int      `json:"seed,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type exchangeResult struct {
	content     string
	usage       *Usage
	status      int
	requestID   string
	retryAfter  string
	bodySnippet string
}

func snippet(raw []byte, n int) string {
	if len(raw) > n {
		raw = raw[:n]
	}
	return string(raw)
}

func (c *Client) exchange(ctx context.Context, messages []Message, opts Options) (*exchangeResult, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		Seed:        c.seed,
	}
	if opts.MaxTokens > 0 {
		reqBody.MaxTokens = opts.MaxTokens
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	res := &exchangeResult{
		status:      resp.StatusCode,
		requestID:   resp.Header.Get("x-request-id"),
		retryAfter:  resp.Header.Get("Retry-After"),
		bodySnippet: snippet(raw, 200),
	}
	// An undecodable body on a success status yields empty content rather
	// than an error; error statuses carry the snippet instead.
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if len(decoded.Choices) > 0 {
			res.content = decoded.Choices[0].Message.Content
		}
		res.usage = decoded.Usage
	}
	return res, nil
}

func (c *Client) meta(attempts int, opts Options, ex *exchangeResult) Meta {
	m := Meta{
		Provider:    c.provider,
		Model:       c.model,
		Attempts:    attempts,
		Temperature: opts.Temperature,
	}
	if ex != nil {
		m.Usage = ex.usage
		m.RequestID = ex.requestID
		m.StatusCode = ex.status
	}
	return m
}

// ChatWithMeta sends the conversation and returns the first choice's text.
// Statuses below 400 succeed; 429 and 5xx are retried with capped
// exponential backoff plus jitter until opts.Retries is exhausted, a
// numeric Retry-After header overriding the computed delay; any other 4xx
// fails immediately with ErrPermanent. Transport errors are not retried.
func (c *Client) ChatWithMeta(ctx context.Context, messages []Message, opts Options) (string, Meta, error) {
	maxRetries := opts.Retries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempts := 0
	for {
		attempts++
		ex, err := c.exchange(ctx, messages, opts)
		if err != nil {
			return "", c.meta(attempts, opts, nil), fmt.Errorf("%s chat: %w", c.provider, err)
		}
		if ex.status < 400 {
			return ex.content, c.meta(attempts, opts, ex), nil
		}
		if !retryable(ex.status) {
			return "", c.meta(attempts, opts, ex),
				fmt.Errorf("%w: %s returned %d: %s", ErrPermanent, c.provider, ex.status, ex.bodySnippet)
		}
		if attempts > maxRetries {
			return "", c.meta(attempts, opts, ex),
				fmt.Errorf("%w: %s returned %d after %d attempts: %s", ErrTransient, c.provider, ex.status, attempts, ex.bodySnippet)
		}

		delay := backoffDelay(attempts, retryAfterSeconds(ex.retryAfter))
		slog.Warn("LLM call failed, backing off",
			"provider", c.provider,
			"status", ex.status,
			"attempt", attempts,
			"delay", delay)
		select {
		case <-ctx.Done():
			return "", c.meta(attempts, opts, ex), ctx.Err()
		case <-time.After(delay):
		}
	}
}
