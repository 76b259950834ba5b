// Package llm talks to OpenAI-compatible completion endpoints using each
// persona's own API base, credential and sampling configuration.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mwhitfield/choir/internal/format"
	"github.com/mwhitfield/choir/internal/persona"
)

const (
	requestTimeout = 60 * time.Second
	maxRawAttempts = 3
	userAgent      = "choir/0.1.0"
)

// Client defines the completion operations the turn router depends on.
type Client interface {
	// CompleteInstruct runs a role-tagged chat completion. Single-shot:
	// failures propagate to the caller.
	CompleteInstruct(ctx context.Context, p *persona.Persona, messages []format.Message) (string, error)

	// CompleteRaw runs a flat-prompt completion, retrying transient
	// failures up to a small fixed bound.
	CompleteRaw(ctx context.Context, p *persona.Persona, prompt string, stop []string) (string, error)
}

// CompletionClient is the production Client backed by go-openai for the
// instruct path and a plain HTTP JSON client for the raw path.
type CompletionClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCompletionClient creates a completion client with proper timeouts.
func NewCompletionClient(logger *slog.Logger) *CompletionClient {
	return &CompletionClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// CompleteInstruct sends a chat completion request to the persona's
// endpoint. Only sampling parameters the chat API shape understands are
// forwarded; the remainder apply to the raw path only.
func (c *CompletionClient) CompleteInstruct(ctx context.Context, p *persona.Persona, messages []format.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	cfg := openai.DefaultConfig(p.APIKey)
	if p.APIBase != "" {
		cfg.BaseURL = p.APIBase
	}
	client := openai.NewClientWithConfig(cfg)

	// go-openai marshals Temperature with omitempty, so an exact zero
	// never reaches the wire and the provider default wins. The smallest
	// positive float32 survives serialization and samples identically.
	temperature := float32(p.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model:       p.ModelName,
		MaxTokens:   p.MaxTokens,
		Temperature: temperature,
	}
	if p.TopP != nil {
		req.TopP = float32(*p.TopP)
	}
	if p.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*p.FrequencyPenalty)
	}
	if p.PresencePenalty != nil {
		req.PresencePenalty = float32(*p.PresencePenalty)
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	c.logger.InfoContext(ctx, "sending instruct completion request",
		"persona", p.Name,
		"model", p.ModelName,
		"max_tokens", p.MaxTokens,
		"message_count", len(req.Messages))

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "instruct completion failed", "persona", p.Name, "error", err)
		return "", fmt.Errorf("instruct completion for %s: %w", p.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", NewAPIError(p.Name, 0, "no choices in completion response", nil)
	}

	content := resp.Choices[0].Message.Content
	c.logger.InfoContext(ctx, "received instruct completion",
		"persona", p.Name,
		"response_length", len(content),
		"finish_reason", resp.Choices[0].FinishReason)

	return content, nil
}

type rawCompletionRequest struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens"`
	Stop              []string `json:"stop,omitempty"`
	Temperature       float64  `json:"temperature"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	MinP              *float64 `json:"min_p,omitempty"`
	TopA              *float64 `json:"top_a,omitempty"`
}

type rawCompletionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// CompleteRaw posts a flat prompt to the persona's /completions endpoint.
// Empty bodies, malformed payloads, transport errors and 5xx responses are
// retried up to maxRawAttempts; 4xx responses fail immediately.
func (c *CompletionClient) CompleteRaw(ctx context.Context, p *persona.Persona, prompt string, stop []string) (string, error) {
	body := rawCompletionRequest{
		Model:             p.ModelName,
		Prompt:            prompt,
		MaxTokens:         p.MaxTokens,
		Stop:              stop,
		Temperature:       p.Temperature,
		TopP:              p.TopP,
		TopK:              p.TopK,
		FrequencyPenalty:  p.FrequencyPenalty,
		PresencePenalty:   p.PresencePenalty,
		RepetitionPenalty: p.RepetitionPenalty,
		MinP:              p.MinP,
		TopA:              p.TopA,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.InfoContext(ctx, "sending raw completion request",
		"persona", p.Name,
		"model", p.ModelName,
		"max_tokens", p.MaxTokens,
		"prompt_length", len(prompt))

	var lastErr error
	for attempt := 1; attempt <= maxRawAttempts; attempt++ {
		text, retryable, err := c.rawAttempt(ctx, p, jsonData)
		if err == nil {
			c.logger.InfoContext(ctx, "received raw completion",
				"persona", p.Name,
				"response_length", len(text),
				"attempt", attempt)
			return text, nil
		}
		if !retryable {
			c.logger.ErrorContext(ctx, "raw completion failed", "persona", p.Name, "error", err)
			return "", err
		}
		lastErr = err
		c.logger.WarnContext(ctx, "raw completion attempt failed",
			"persona", p.Name,
			"attempt", attempt,
			"max_attempts", maxRawAttempts,
			"error", err)
	}

	return "", fmt.Errorf("raw completion for %s failed after %d attempts: %w", p.Name, maxRawAttempts, lastErr)
}

// rawAttempt performs one request. The second return reports whether the
// failure is worth retrying.
func (c *CompletionClient) rawAttempt(ctx context.Context, p *persona.Persona, jsonData []byte) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := p.APIBase + "/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.APIKey))
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := NewAPIError(p.Name, resp.StatusCode, string(respBody), nil)
		return "", resp.StatusCode >= http.StatusInternalServerError, apiErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return "", true, NewAPIError(p.Name, resp.StatusCode, "empty response body", nil)
	}

	var result rawCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", true, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", true, NewAPIError(p.Name, resp.StatusCode, "no choices in completion response", nil)
	}

	return result.Choices[0].Text, false, nil
}
