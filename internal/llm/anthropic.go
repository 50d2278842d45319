package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kadirpekel/orchestra/internal/httpclient"
)

// AnthropicClient calls the Anthropic Messages API for Stage-2
// adjudication and decomposition with a single non-streaming completion
// call, since routing/decomposition need one JSON reply, not a
// conversation.
type AnthropicClient struct {
	apiKey string
	model string
	host string
	http *httpclient.Client
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithHost overrides the API host (default https://api.anthropic.com).
func WithHost(host string) AnthropicOption {
	return func(c *AnthropicClient) { c.host = host }
}

// NewAnthropicClient builds a Client backed by the Anthropic Messages API.
func NewAnthropicClient(apiKey, model string, opts...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		apiKey: apiKey,
		model: model,
		host: "https://api.anthropic.com",
		http: httpclient.New(
			httpclient.WithMaxRetries(2),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
			httpclient.WithStrategy(anthropicRetryStrategy),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// anthropicRetryStrategy treats 429 as rate-limit-aware (honor the
// provider's reset header) and 5xx as plain exponential backoff.
func anthropicRetryStrategy(statusCode int) httpclient.RetryStrategy {
	switch statusCode {
	case 429:
		return httpclient.SmartRetry
	case 500, 502, 503, 504, 408:
		return httpclient.ConservativeRetry
	default:
		return httpclient.NoRetry
	}
}

type anthropicRequest struct {
	Model string `json:"model"`
	MaxTokens int `json:"max_tokens"`
	Messages []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model: c.model,
		MaxTokens: 1024,
		Messages: []anthropicMessage{{Role: "user", Content: prompt}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	resp, err := c.http.PostJSON(ctx, c.host+"/v1/messages", payload, map[string]string{
			"x-api-key": c.apiKey,
			"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: anthropic error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}

	return parsed.Content[0].Text, nil
}

var _ Client = (*AnthropicClient)(nil)
