// Package ai provides the gateway to an OpenAI-compatible completion
// backend. Every failure is mapped onto the small error taxonomy in the
// domain package so callers can fall back without inspecting transport
// details.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Gateway calls a chat-completions endpoint and implements
// domain.Completer. It is safe for concurrent use.
type Gateway struct {
	cfg    domain.AIConfig
	client *http.Client
	logger *slog.Logger
}

// NewGateway creates a gateway from config. The gateway is created even
// when AI is disabled; Complete then returns ErrAIDisabled so callers
// exercise their fallback paths.
func NewGateway(cfg domain.AIConfig, logger *slog.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// Enabled reports whether the backend can be called at all.
func (g *Gateway) Enabled() bool {
	return !g.cfg.DemoMode && g.cfg.APIKey != ""
}

// Provider returns the configured provider name.
func (g *Gateway) Provider() string {
	return g.cfg.Provider
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one completion request. It retries transient failures
// (rate limits, server errors) up to MaxRetries times with a short
// backoff, each attempt bounded by the configured timeout.
func (g *Gateway) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	if !g.Enabled() {
		return nil, domain.ErrAIDisabled
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrAITimeout, ctx.Err())
			}
			g.logger.Debug("retrying completion", "attempt", attempt)
		}

		completion, err := g.attempt(ctx, req)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		// Only rate limits and backend unavailability are worth a retry.
		if !errors.Is(err, domain.ErrAIRateLimited) && !errors.Is(err, domain.ErrAIUnavailable) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (g *Gateway) attempt(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(g.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: request exceeded %s", domain.ErrAITimeout, g.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAIUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrAIUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status 429", domain.ErrAIRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrAIUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrAIMalformed, resp.StatusCode, truncate(data, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAIMalformed, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAIMalformed, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", domain.ErrAIMalformed)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	completion := &domain.Completion{Text: text}

	// When the caller asked for structured output the content must be a
	// JSON object with the requested fields.
	if len(req.Schema) > 0 {
		structured, err := parseStructured(text, req.Schema)
		if err != nil {
			return nil, err
		}
		completion.Structured = structured
	}
	return completion, nil
}

// parseStructured extracts a JSON object from the model output. Models
// sometimes wrap JSON in markdown fences, so those are stripped first.
func parseStructured(text string, schema map[string]string) (map[string]any, error) {
	cleaned := text
	if idx := strings.Index(cleaned, "{"); idx >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > idx {
			cleaned = cleaned[idx : end+1]
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", domain.ErrAIMalformed, err)
	}
	for field := range schema {
		if _, ok := out[field]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", domain.ErrAIMalformed, field)
		}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
