// Package llm provides the OpenAI-compatible chat completion client used by
// all three pipeline tiers, plus the model constraint table and the JSON
// repair helpers the planner depends on.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/breaker"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/config"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// completionTimeout is the per-call wall clock budget.
const completionTimeout = 900 * time.Second

// Client is a chat-completions client bound to one tier's endpoint.
// Each scout and writer constructs its own Client; instances share nothing
// but the process-global breaker registry.
type Client struct {
	tier       string
	model      string
	baseURL    string
	apiKey     string
	modelCfg   ModelConfig
	httpClient *http.Client
	registry   *breaker.Registry
}

// NewClient builds a client for one tier. The model must resolve through the
// constraint table; unknown models are a fatal configuration error.
func NewClient(tier string, tc config.TierConfig) (*Client, error) {
	if tc.APIKey == "" {
		return nil, &ConfigError{Msg: fmt.Sprintf("missing API key for %s tier", tier)}
	}
	mc, err := ResolveModel(tc.Model)
	if err != nil {
		return nil, err
	}
	baseURL := tc.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		tier:       tier,
		model:      tc.Model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     tc.APIKey,
		modelCfg:   mc,
		httpClient: &http.Client{Timeout: completionTimeout},
		registry:   breaker.Default(),
	}, nil
}

// ModelConfig exposes the resolved constraint entry.
func (c *Client) ModelConfig() ModelConfig { return c.modelCfg }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// ContextWindow returns the model's context window in tokens.
func (c *Client) ContextWindow() int { return c.modelCfg.ContextWindow }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	// Thinking is omitted entirely for models whose thinking mode breaks
	// multi-turn exchanges (constraint table DisableThinking).
	Thinking *thinkingConfig `json:"thinking,omitempty"`
}

type thinkingConfig struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// RemoteError is a non-2xx response from the endpoint. Retryable reports
// whether the pipeline's transient-failure handling applies (5xx and 429).
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("llm endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *RemoteError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Complete sends a single-turn prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends one completion call through the tier's circuit
// breaker with the standard wall-clock deadline.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	out, err := breaker.Do(ctx, c.registry, c.tier, completionTimeout, func(ctx context.Context) (string, error) {
		return c.completeOnce(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues(c.tier, "error").Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues(c.tier, "success").Inc()
	return out, nil
}

func (c *Client) completeOnce(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.modelCfg.MaxOutputTokens,
	}
	if c.modelCfg.DisableThinking {
		reqBody.Thinking = &thinkingConfig{Type: "disabled"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &RemoteError{StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
