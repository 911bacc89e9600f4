package domain

import (
	"context"
	"errors"
	"time"
)

// AI gateway error taxonomy. These are always recovered locally by the
// resolver and insight generator; they never surface as request failures.
var (
	ErrAIDisabled    = errors.New("ai backend disabled")
	ErrAITimeout     = errors.New("ai backend timeout")
	ErrAIRateLimited = errors.New("ai backend rate limited")
	ErrAIMalformed   = errors.New("ai backend returned malformed response")
	ErrAIUnavailable = errors.New("ai backend unavailable")
)

// CompletionRequest is a single prompt sent through the AI gateway.
type CompletionRequest struct {
	// System sets the assistant role for the call.
	System string

	// Prompt is the user message.
	Prompt string

	// Schema, when non-nil, requests structured JSON output with the
	// given field names and JSON types (e.g. "string", "number").
	Schema map[string]string

	MaxTokens   int
	Temperature float64
}

// Completion is the gateway result.
type Completion struct {
	// Text is the raw model output.
	Text string

	// Structured holds the parsed JSON object when a schema was requested.
	Structured map[string]any
}

// Completer is the uniform capability exposed by the AI backend gateway.
// Complete is the engine's only suspension point; implementations must
// bound each call by the configured timeout with a single retry.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Enabled reports whether the backend is configured and usable.
	Enabled() bool

	// Provider returns the backend provider name, empty if disabled.
	Provider() string
}

// AIConfig holds configuration for the AI backend gateway.
type AIConfig struct {
	// Provider is the backend name, e.g. "openai".
	Provider string

	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds a single completion attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// DemoMode forces the deterministic fallback paths even when a key
	// is configured. Used to keep behavior reproducible in tests and
	// under rate limiting.
	DemoMode bool
}
