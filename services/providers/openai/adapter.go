package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/novelmill/ai-core/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Adapter implements the Provider interface for OpenAI-style backends
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	models     map[string]*providers.ModelInfo
}

// New creates a new OpenAI adapter
func New(config providers.Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 45 * time.Second
	}

	adapter := &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}

	adapter.initModels()

	return adapter
}

// Factory builds an adapter behind the providers.Factory signature
func Factory(config providers.Config) (providers.Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	return New(config), nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "openai"
}

// DefaultModel returns the configured model
func (a *Adapter) DefaultModel() string {
	return a.config.Model
}

// ChatCompletion performs a chat completion request
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	openaiReq := a.buildRequest(model, req)

	reqBody, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var openaiResp chatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, true, err)
	}

	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "response contained no choices", httpResp.StatusCode, true, nil)
	}

	choice := openaiResp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		// Empty content is a retryable failure, never a success.
		return nil, providers.NewProviderError(a.Name(), "EMPTY_CONTENT", "completion content is empty", httpResp.StatusCode, true, nil)
	}

	return &providers.ChatResult{
		Content:      choice.Message.Content,
		Model:        openaiResp.Model,
		Provider:     a.Name(),
		FinishReason: choice.FinishReason,
		Usage: providers.Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
		},
		Raw:     respBody,
		Latency: time.Since(startTime),
	}, nil
}

// ValidateCredentials checks the API key against the models endpoint
func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/models", nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "credential check failed", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return providers.NewProviderError(a.Name(), "INVALID_CREDENTIALS", "API key rejected", resp.StatusCode, false, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return providers.NewProviderError(a.Name(), "UNEXPECTED_STATUS", fmt.Sprintf("unexpected status %d", resp.StatusCode), resp.StatusCode, true, nil)
	}

	return nil
}

// ModelInfo returns information about a specific model
func (a *Adapter) ModelInfo(model string) (*providers.ModelInfo, error) {
	info, exists := a.models[model]
	if !exists {
		return nil, fmt.Errorf("model %s not found", model)
	}
	return info, nil
}

// initModels initializes the model information map
func (a *Adapter) initModels() {
	a.models = map[string]*providers.ModelInfo{
		"gpt-4o": {
			ID:            "gpt-4o",
			Name:          "GPT-4o",
			Provider:      "openai",
			MaxTokens:     4096,
			ContextWindow: 128000,
			SupportsJSON:  true,
		},
		"gpt-4o-mini": {
			ID:            "gpt-4o-mini",
			Name:          "GPT-4o Mini",
			Provider:      "openai",
			MaxTokens:     16384,
			ContextWindow: 128000,
			SupportsJSON:  true,
		},
		"gpt-4-turbo": {
			ID:            "gpt-4-turbo",
			Name:          "GPT-4 Turbo",
			Provider:      "openai",
			MaxTokens:     4096,
			ContextWindow: 128000,
			SupportsJSON:  true,
		},
		"gpt-3.5-turbo": {
			ID:            "gpt-3.5-turbo",
			Name:          "GPT-3.5 Turbo",
			Provider:      "openai",
			MaxTokens:     4096,
			ContextWindow: 16385,
			SupportsJSON:  true,
		},
	}
}

// buildRequest converts a unified request to OpenAI wire format
func (a *Adapter) buildRequest(model string, req *providers.ChatRequest) *chatRequest {
	openaiReq := &chatRequest{
		Model:    model,
		Messages: make([]chatMessage, len(req.Messages)),
	}

	for i, msg := range req.Messages {
		openaiReq.Messages[i] = chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		openaiReq.Temperature = &req.Temperature
	}
	if req.WantJSON {
		openaiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	return openaiReq
}

// handleErrorResponse maps OpenAI error responses onto ProviderError
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, statusCode >= 500, err)
	}

	perr := providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		statusCode >= 500 || statusCode == http.StatusTooManyRequests,
		errors.New(errResp.Error.Message),
	)

	// Error taxonomies differ between deployments; check the message too.
	lower := strings.ToLower(errResp.Error.Message)
	if statusCode == http.StatusTooManyRequests ||
		errResp.Error.Type == "insufficient_quota" ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota") {
		perr.RateLimited = true
		perr.Retryable = true
	}

	return perr
}

// OpenAI-specific request/response types

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
