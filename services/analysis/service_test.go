package analysis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novelmill/ai-core/services/providers"
	"github.com/novelmill/ai-core/services/ratelimit"
	"github.com/novelmill/ai-core/services/retry"
)

// scriptedProvider returns canned completions in order, repeating the last
// one once the script runs out
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (p *scriptedProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return &providers.ChatResult{
		Content:      p.responses[idx],
		Model:        "scripted-model",
		Provider:     "scripted",
		FinishReason: "stop",
	}, nil
}

func (p *scriptedProvider) ValidateCredentials(ctx context.Context) error { return nil }
func (p *scriptedProvider) ModelInfo(model string) (*providers.ModelInfo, error) {
	return nil, nil
}

func newTestService(provider providers.Provider) *Service {
	logger := zap.NewNop()
	limiter := ratelimit.NewService(nil, logger)
	executor := retry.NewExecutor(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, logger)
	return NewService(provider, limiter, executor, time.Second, logger)
}

func TestAnalyze_Success(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"characters": ["林远", "苏青"], "places": ["青云宗"], "terms": ["灵气"], "summary": "两人初入宗门。"}`,
	}}
	svc := newTestService(provider)

	result := svc.Analyze(context.Background(), "林远和苏青来到青云宗……", "zh")

	require.NotNil(t, result)
	assert.False(t, result.Fallback)
	assert.Equal(t, []string{"林远", "苏青"}, result.Characters)
	assert.Equal(t, []string{"青云宗"}, result.Places)
	assert.Equal(t, []string{"灵气"}, result.Terms)
	assert.Equal(t, "两人初入宗门。", result.Summary)
	assert.Nil(t, result.Diagnostics)
	assert.Nil(t, svc.LastFailure())
}

func TestAnalyze_FencedResponseStillParses(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		"```json\n{\"characters\": [], \"places\": [], \"terms\": [], \"summary\": \"quiet chapter\"}\n```",
	}}
	svc := newTestService(provider)

	result := svc.Analyze(context.Background(), "text", "en")

	assert.False(t, result.Fallback)
	assert.Equal(t, "quiet chapter", result.Summary)
	assert.Equal(t, 1, provider.calls)
}

func TestAnalyze_MalformedRetriesThenRecovers(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"characters": ["Anna"`, // truncated, retried
		`{"characters": ["Anna"], "places": [], "terms": [], "summary": "ok"}`,
	}}
	svc := newTestService(provider)

	result := svc.Analyze(context.Background(), "text", "en")

	assert.False(t, result.Fallback)
	assert.Equal(t, []string{"Anna"}, result.Characters)
	assert.Equal(t, 2, provider.calls)
}

func TestAnalyze_MalformedEveryAttemptFallsBack(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"not JSON at all {"}}
	svc := newTestService(provider)

	source := strings.Repeat("很久很久以前,有一座山。", 30)
	result := svc.Analyze(context.Background(), source, "zh")

	require.NotNil(t, result)
	assert.True(t, result.Fallback)
	assert.Empty(t, result.Characters)
	assert.Empty(t, result.Places)
	assert.Empty(t, result.Terms)

	// Fallback summary is the truncated source, never model output
	assert.Equal(t, fallbackSummaryRunes, len([]rune(result.Summary)))
	assert.True(t, strings.HasPrefix(source, result.Summary))

	// All attempts consumed before giving up
	assert.Equal(t, 3, provider.calls)

	require.NotNil(t, result.Diagnostics)
	assert.Equal(t, "scripted", result.Diagnostics.Provider)
	assert.Equal(t, "scripted-model", result.Diagnostics.Model)
	assert.NotEmpty(t, result.Diagnostics.JobID)
	assert.Contains(t, result.Diagnostics.RawResponse, "not JSON")
	assert.NotEmpty(t, result.Diagnostics.Cause)
	assert.Equal(t, result.Diagnostics, svc.LastFailure())
}

func TestAnalyze_IncompleteSchemaFallsBackWithoutRetry(t *testing.T) {
	// Well-formed JSON missing a required key is a validation failure, which
	// retrying cannot fix
	provider := &scriptedProvider{responses: []string{
		`{"characters": [], "places": [], "terms": []}`,
	}}
	svc := newTestService(provider)

	result := svc.Analyze(context.Background(), "short chapter", "en")

	assert.True(t, result.Fallback)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "short chapter", result.Summary)
	require.NotNil(t, result.Diagnostics)
	assert.Contains(t, result.Diagnostics.Cause, "summary")
}

func TestAnalyze_SuccessDoesNotClearLastFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"characters": [], "places": []}`,
		`{"characters": [], "places": [], "terms": [], "summary": "fine"}`,
	}}
	svc := newTestService(provider)

	first := svc.Analyze(context.Background(), "text", "en")
	require.True(t, first.Fallback)
	failure := svc.LastFailure()
	require.NotNil(t, failure)

	second := svc.Analyze(context.Background(), "text", "en")
	require.False(t, second.Fallback)
	assert.Equal(t, failure, svc.LastFailure())
}

func TestCleanNames(t *testing.T) {
	got := cleanNames([]string{
		"“林远”",
		"「苏青」",
		"  Anna  ",
		"Anna",
		"……",
		"",
		"Dragon-Lord", // interior punctuation is preserved
	})

	assert.Equal(t, []string{"林远", "苏青", "Anna", "Dragon-Lord"}, got)
}

func TestCleanNames_CleanInputPassesThrough(t *testing.T) {
	in := []string{"林远", "Anna"}
	assert.Equal(t, in, cleanNames(in))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "你好", truncateRunes("你好世界", 2))
}

func TestBuildMessages(t *testing.T) {
	messages := buildMessages("chapter body", "zh")

	require.Len(t, messages, 2)
	assert.Equal(t, providers.RoleSystem, messages[0].Role)
	assert.Equal(t, providers.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "Chinese")
	assert.Contains(t, messages[1].Content, "chapter body")
}
