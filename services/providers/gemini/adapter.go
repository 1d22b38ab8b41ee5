package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// Adapter implements the Provider interface for Gemini-style backends.
//
// Gemini diverges from the OpenAI wire shape in two ways this adapter
// normalizes: system instructions travel out-of-band in a dedicated
// systemInstruction field rather than as a message, and the assistant role is
// named "model". Neither detail leaks to callers.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	models     map[string]*providers.ModelInfo
}

// New creates a new Gemini adapter
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
		return nil, errors.New("gemini: API key is required")
	}
	return New(config), nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "gemini"
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

	geminiReq := a.buildRequest(req)

	reqBody, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.config.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)
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

	var geminiResp generateContentResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, true, err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "response contained no candidates", httpResp.StatusCode, true, nil)
	}

	candidate := geminiResp.Candidates[0]
	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}
	content := sb.String()

	if strings.TrimSpace(content) == "" {
		// Empty content is a retryable failure, never a success.
		return nil, providers.NewProviderError(a.Name(), "EMPTY_CONTENT", "completion content is empty", httpResp.StatusCode, true, nil)
	}

	return &providers.ChatResult{
		Content:      content,
		Model:        model,
		Provider:     a.Name(),
		FinishReason: normalizeFinishReason(candidate.FinishReason),
		Usage: providers.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
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

	req.Header.Set("x-goog-api-key", a.config.APIKey)

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
		"gemini-2.0-flash": {
			ID:            "gemini-2.0-flash",
			Name:          "Gemini 2.0 Flash",
			Provider:      "gemini",
			MaxTokens:     8192,
			ContextWindow: 1048576,
			SupportsJSON:  true,
		},
		"gemini-1.5-pro": {
			ID:            "gemini-1.5-pro",
			Name:          "Gemini 1.5 Pro",
			Provider:      "gemini",
			MaxTokens:     8192,
			ContextWindow: 2097152,
			SupportsJSON:  true,
		},
		"gemini-1.5-flash": {
			ID:            "gemini-1.5-flash",
			Name:          "Gemini 1.5 Flash",
			Provider:      "gemini",
			MaxTokens:     8192,
			ContextWindow: 1048576,
			SupportsJSON:  true,
		},
	}
}

// buildRequest converts a unified request to Gemini wire format.
// System messages are lifted into systemInstruction; the first one wins and
// any later ones are demoted to user messages so no content is lost.
func (a *Adapter) buildRequest(req *providers.ChatRequest) *generateContentRequest {
	geminiReq := &generateContentRequest{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			if geminiReq.SystemInstruction == nil {
				geminiReq.SystemInstruction = &systemInstruction{
					Parts: []part{{Text: msg.Content}},
				}
				continue
			}
			geminiReq.Contents = append(geminiReq.Contents, content{
				Role:  "user",
				Parts: []part{{Text: msg.Content}},
			})
		case providers.RoleAssistant:
			geminiReq.Contents = append(geminiReq.Contents, content{
				Role:  "model",
				Parts: []part{{Text: msg.Content}},
			})
		default:
			geminiReq.Contents = append(geminiReq.Contents, content{
				Role:  "user",
				Parts: []part{{Text: msg.Content}},
			})
		}
	}

	cfg := &generationConfig{}
	configured := false
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
		configured = true
	}
	if req.Temperature > 0 {
		cfg.Temperature = &req.Temperature
		configured = true
	}
	if req.WantJSON {
		cfg.ResponseMIMEType = "application/json"
		configured = true
	}
	if configured {
		geminiReq.GenerationConfig = cfg
	}

	return geminiReq
}

// handleErrorResponse maps Gemini error responses onto ProviderError
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, statusCode >= 500, err)
	}

	perr := providers.NewProviderError(
		a.Name(),
		errResp.Error.Status,
		errResp.Error.Message,
		statusCode,
		statusCode >= 500 || statusCode == http.StatusTooManyRequests,
		errors.New(errResp.Error.Message),
	)

	lower := strings.ToLower(errResp.Error.Message)
	if statusCode == http.StatusTooManyRequests ||
		errResp.Error.Status == "RESOURCE_EXHAUSTED" ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") {
		perr.RateLimited = true
		perr.Retryable = true
	}

	return perr
}

// normalizeFinishReason maps Gemini finish reasons onto the unified set
func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// Gemini-specific request/response types

type generateContentRequest struct {
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	Contents          []content          `json:"contents"`
	GenerationConfig  *generationConfig  `json:"generationConfig,omitempty"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type generateContentResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
