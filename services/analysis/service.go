package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novelmill/ai-core/services/parse"
	"github.com/novelmill/ai-core/services/providers"
	"github.com/novelmill/ai-core/services/ratelimit"
	"github.com/novelmill/ai-core/services/retry"
)

const (
	// fallbackSummaryRunes is how much source text the fallback summary keeps
	fallbackSummaryRunes = 200

	// decorative punctuation trimmed from the edges of extracted names;
	// covers ASCII and CJK quoting/bracketing plus common trailing marks
	decorativeRunes = " \t\"'“”‘’「」『』《》〈〉【】〔〕()()[]{}<>,,。、;;::!!??·・…~～-—_*#"

	analysisMaxTokens   = 2048
	analysisTemperature = 0.2
)

// requiredFields is the schema every analysis response must satisfy
var requiredFields = []parse.Field{
	{Name: "characters", Kind: parse.KindStringList},
	{Name: "places", Kind: parse.KindStringList},
	{Name: "terms", Kind: parse.KindStringList},
	{Name: "summary", Kind: parse.KindString},
}

// Service extracts entities and a summary from chapter text. Its failure
// policy is swallow-to-fallback: a degraded deterministic result with
// diagnostics is always preferable to blocking a batch.
type Service struct {
	provider providers.Provider
	limiter  *ratelimit.Service
	executor *retry.Executor
	maxWait  time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	lastFailure *Diagnostics
}

// NewService creates an analysis service
func NewService(
	provider providers.Provider,
	limiter *ratelimit.Service,
	executor *retry.Executor,
	maxWait time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		provider: provider,
		limiter:  limiter,
		executor: executor,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Analyze runs the analysis pipeline for one chapter. It never returns an
// error: any pipeline failure yields a marked fallback result instead.
func (s *Service) Analyze(ctx context.Context, text, languageCode string) *Result {
	jobID := uuid.New().String()
	messages := buildMessages(text, languageCode)

	s.logger.Info("starting analysis",
		zap.String("job_id", jobID),
		zap.String("provider", s.provider.Name()),
		zap.String("language", languageCode),
		zap.Int("source_len", len(text)))

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
			MaxTokens:   analysisMaxTokens,
			Temperature: analysisTemperature,
			WantJSON:    true,
			Metadata:    map[string]string{"job_id": jobID, "operation": "analysis"},
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
		diag := &Diagnostics{
			JobID:       jobID,
			Provider:    s.provider.Name(),
			Model:       lastModel,
			Prompt:      renderPrompt(messages),
			RawResponse: lastRaw,
			Cause:       err.Error(),
		}
		s.setLastFailure(diag)

		s.logger.Warn("analysis failed, returning fallback",
			zap.String("job_id", jobID),
			zap.Error(err))

		return fallbackResult(text, diag)
	}

	result := &Result{
		Characters: cleanNames(parse.StringList(obj, "characters")),
		Places:     cleanNames(parse.StringList(obj, "places")),
		Terms:      cleanNames(parse.StringList(obj, "terms")),
		Summary:    strings.TrimSpace(parse.StringField(obj, "summary")),
	}

	s.logger.Info("analysis completed",
		zap.String("job_id", jobID),
		zap.Int("characters", len(result.Characters)),
		zap.Int("places", len(result.Places)),
		zap.Int("terms", len(result.Terms)))

	return result
}

// LastFailure returns the diagnostics of the most recent failed analysis, or
// nil when none has failed yet. Successful operations store nothing.
func (s *Service) LastFailure() *Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

func (s *Service) setLastFailure(diag *Diagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFailure = diag
}

// fallbackResult builds the deterministic degraded result: empty entity sets
// and the truncated source text as summary
func fallbackResult(text string, diag *Diagnostics) *Result {
	return &Result{
		Characters:  []string{},
		Places:      []string{},
		Terms:       []string{},
		Summary:     truncateRunes(strings.TrimSpace(text), fallbackSummaryRunes),
		Fallback:    true,
		Diagnostics: diag,
	}
}

// cleanNames strips decorative punctuation from the edges of each name,
// drops entries that end up empty and removes duplicates preserving order.
// A name carrying no decorative punctuation passes through unchanged.
func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		cleaned := strings.Trim(name, decorativeRunes)
		if cleaned == "" {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}

	return out
}

// truncateRunes shortens s to at most max runes without splitting characters
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
