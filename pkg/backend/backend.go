// Package backend defines the model-invocation interface the engine calls
// and an HTTP client for OpenAI-compatible inference servers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// GenerateRequest is a single model invocation.
type GenerateRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerateResult is the backend's answer. Confidence is negative when the
// backend reports no native score.
type GenerateResult struct {
	Text             string
	Confidence       float64
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
}

// Backend serves model invocations for every tier.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// HTTPBackend talks to an OpenAI-compatible /v1/chat/completions endpoint.
// Local inference servers and cloud gateways both speak this shape.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates an HTTPBackend for the given base URL. Per-call deadlines
// come from the request context, so the client itself carries no timeout.
func NewHTTP(baseURL, apiKey string) (*HTTPBackend, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	return &HTTPBackend{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	// Non-standard field some local servers attach per response.
	Confidence *float64 `json:"confidence"`
}

// Generate sends one completion request and maps the response.
func (b *HTTPBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("backend returned no choices")
	}

	result := &GenerateResult{
		Text:       parsed.Choices[0].Message.Content,
		Confidence: -1,
	}
	if parsed.Confidence != nil {
		result.Confidence = *parsed.Confidence
	}
	if parsed.Usage != nil {
		result.PromptTokens = parsed.Usage.PromptTokens
		result.CompletionTokens = parsed.Usage.CompletionTokens
		result.TokensUsed = parsed.Usage.TotalTokens
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// EstimateTokens approximates the token count of a text at four characters
// per token, matching how cost estimates are made before a call.
func EstimateTokens(text string) int {
	return len(text) / 4
}
