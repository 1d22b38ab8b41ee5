package translation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novelmill/ai-core/services"
	"github.com/novelmill/ai-core/services/parse"
	"github.com/novelmill/ai-core/services/providers"
	"github.com/novelmill/ai-core/services/ratelimit"
	"github.com/novelmill/ai-core/services/retry"
)

const (
	translationMaxTokens   = 8192
	translationTemperature = 0.3

	// excerptRunes bounds prompt/response excerpts in error details
	excerptRunes = 300
)

// requiredFields is the schema every translation response must satisfy
var requiredFields = []parse.Field{
	{Name: "translated_title", Kind: parse.KindString},
	{Name: "translated_content", Kind: parse.KindString},
	{Name: "updated_entity_map", Kind: parse.KindStringMap},
	{Name: "translator_notes", Kind: parse.KindStringList},
}

// Service translates chapters with cross-chapter name consistency. Unlike
// analysis, its failure policy is propagate: a partial or fallback
// translation is never a silent substitute for real output, so exhausted
// retries surface as a typed error the scheduler can act on.
type Service struct {
	provider providers.Provider
	contexts ContextProvider
	limiter  *ratelimit.Service
	executor *retry.Executor
	maxWait  time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	lastFailure *Diagnostics
}

// NewService creates a translation service. contexts may be nil when callers
// always pass a Context directly on the request.
func NewService(
	provider providers.Provider,
	contexts ContextProvider,
	limiter *ratelimit.Service,
	executor *retry.Executor,
	maxWait time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		provider: provider,
		contexts: contexts,
		limiter:  limiter,
		executor: executor,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Translate runs the translation pipeline for one chapter. On exhausted
// retries it returns a translation-failed error carrying a diagnostic bundle.
func (s *Service) Translate(ctx context.Context, req *Request) (*Result, error) {
	jobID := uuid.New().String()

	s.logger.Info("starting translation",
		zap.String("job_id", jobID),
		zap.String("provider", s.provider.Name()),
		zap.String("source_lang", req.SourceLang),
		zap.String("target_lang", req.TargetLang),
		zap.Int("source_len", len(req.SourceText)))

	tctx, err := s.gatherContext(ctx, req)
	if err != nil {
		return nil, s.fail(jobID, "", "", "", err)
	}

	messages := buildMessages(req, tctx)

	var obj map[string]interface{}
	var lastRaw, lastModel string

	op := func(ctx context.Context) error {
		s.logger.Debug("admitting request", zap.String("job_id", jobID))
		if err := s.limiter.Admit(ctx, s.provider.Name(), s.maxWait); err != nil {
			return err
		}

		s.logger.Debug("invoking provider", zap.String("job_id", jobID))
		result, err := s.provider.ChatCompletion(ctx, &providers.ChatRequest{
			Messages:    messages,
			MaxTokens:   translationMaxTokens,
			Temperature: translationTemperature,
			WantJSON:    true,
			Metadata:    map[string]string{"job_id": jobID, "operation": "translation"},
		})
		if err != nil {
			return err
		}
		lastRaw = result.Content
		lastModel = result.Model

		parsed, err := parse.ParseObject(result.Content)
		if err != nil {
			return err
		}
		if err := parse.ValidateRequired(parsed, requiredFields); err != nil {
			return err
		}

		obj = parsed
		return nil
	}

	if err := s.executor.Execute(ctx, op); err != nil {
		return nil, s.fail(jobID, renderPrompt(messages), lastRaw, lastModel, err)
	}

	result := &Result{
		Title:     strings.TrimSpace(parse.StringField(obj, "translated_title")),
		Content:   parse.StringField(obj, "translated_content"),
		EntityMap: mergeEntityMaps(tctx, parse.StringMap(obj, "updated_entity_map")),
		Notes:     parse.StringList(obj, "translator_notes"),
	}

	s.logger.Info("translation completed",
		zap.String("job_id", jobID),
		zap.Int("content_len", len(result.Content)),
		zap.Int("entity_map_size", len(result.EntityMap)))

	return result, nil
}

// LastFailure returns the diagnostics of the most recent failed translation,
// or nil when none has failed yet
func (s *Service) LastFailure() *Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

// gatherContext resolves the translation context for a request. A nil
// context with no reference is valid: the chapter simply has no history yet.
func (s *Service) gatherContext(ctx context.Context, req *Request) (*Context, error) {
	if req.Context != nil {
		return req.Context, nil
	}
	if req.ContextRef == "" || s.contexts == nil {
		return nil, nil
	}

	tctx, err := s.contexts.Gather(ctx, req.ContextRef)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeInternal, "context gathering failed", err)
	}
	return tctx, nil
}

// fail records diagnostics and wraps the cause as a typed translation
// failure carrying the diagnostic bundle. Never a silent partial write.
func (s *Service) fail(jobID, prompt, raw, model string, cause error) error {
	diag := &Diagnostics{
		JobID:       jobID,
		Provider:    s.provider.Name(),
		Model:       model,
		Prompt:      prompt,
		RawResponse: raw,
		Cause:       cause.Error(),
	}

	s.mu.Lock()
	s.lastFailure = diag
	s.mu.Unlock()

	s.logger.Error("translation failed",
		zap.String("job_id", jobID),
		zap.Error(cause))

	return services.NewDomainError(services.ErrorTypeTranslationFailed, "translation failed", cause).
		WithDetail("job_id", jobID).
		WithDetail("provider", s.provider.Name()).
		WithDetail("model", model).
		WithDetail("error_class", string(services.GetErrorType(cause))).
		WithDetail("prompt_excerpt", truncateRunes(prompt, excerptRunes)).
		WithDetail("response_excerpt", truncateRunes(raw, excerptRunes))
}

// mergeEntityMaps overlays newly returned mappings onto the prior map. Prior
// mappings win: an established translation must stay identical across all
// chapters of a work, even when the model proposes a new variant.
func mergeEntityMaps(tctx *Context, updated map[string]string) map[string]string {
	merged := make(map[string]string, len(updated))
	for k, v := range updated {
		if v != "" {
			merged[k] = v
		}
	}
	if tctx != nil {
		for k, v := range tctx.EntityNames {
			merged[k] = v
		}
	}
	return merged
}

// truncateRunes shortens s to at most max runes without splitting characters
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
