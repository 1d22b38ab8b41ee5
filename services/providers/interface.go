package providers

import (
	"context"
	"time"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider represents a unified AI provider interface
type Provider interface {
	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string

	// ChatCompletion performs a chat completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// ValidateCredentials checks that the configured credentials are accepted
	// by the backend without performing a billable completion
	ValidateCredentials(ctx context.Context) error

	// ModelInfo returns information about a specific model
	ModelInfo(model string) (*ModelInfo, error)

	// DefaultModel returns the model used when a request does not name one
	DefaultModel() string
}

// ChatRequest represents a unified chat completion request
type ChatRequest struct {
	// Model identifier; empty means the provider's default model
	Model string `json:"model"`

	// Messages in the conversation
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length; 0 means provider default
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// WantJSON asks the backend for a JSON-only response where supported
	WantJSON bool `json:"-"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// ChatResult represents a unified chat completion result.
// Content is never empty on the success path; adapters return a retryable
// error for empty completions instead.
type ChatResult struct {
	// Content is the completion text
	Content string `json:"content"`

	// Model that produced the completion
	Model string `json:"model"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// FinishReason indicates why the completion finished
	// Values: "stop", "length", "content_filter", and backend-specific codes
	FinishReason string `json:"finish_reason"`

	// Usage statistics, normalized across backends
	Usage Usage `json:"usage"`

	// Raw is the unmodified backend payload, kept for diagnostics
	Raw []byte `json:"-"`

	// Latency of the request
	Latency time.Duration `json:"latency"`
}

// Usage represents token usage statistics
type Usage struct {
	// PromptTokens used in the request
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens used in the response
	CompletionTokens int `json:"completion_tokens"`
}

// ModelInfo contains metadata about a model
type ModelInfo struct {
	// ID is the model identifier
	ID string `json:"id"`

	// Name is the human-readable name
	Name string `json:"name"`

	// Provider that offers this model
	Provider string `json:"provider"`

	// MaxTokens supported for a single completion
	MaxTokens int `json:"max_tokens"`

	// ContextWindow size
	ContextWindow int `json:"context_window"`

	// SupportsJSON reports whether the model honors a JSON response format
	SupportsJSON bool `json:"supports_json"`
}

// Config holds common configuration for providers
type Config struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Model overrides the provider's default model
	Model string

	// Timeout for requests. Kept conservative so one stalled call does not
	// consume the whole retry budget.
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 45 * time.Second,
		Headers: make(map[string]string),
	}
}

// ProviderError represents an error from a provider backend
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the backend error code or type
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// RateLimited indicates the backend signalled quota exhaustion
	RateLimited bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is a retryable provider error
func IsRetryable(err error) bool {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr.Retryable
	}
	return false
}

// IsRateLimited checks if an error is an upstream quota error
func IsRateLimited(err error) bool {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr.RateLimited
	}
	return false
}
