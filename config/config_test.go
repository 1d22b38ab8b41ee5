package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novelmill/ai-core/services"
)

// clearProviderEnv unsets every variable Load reads so ambient shell state
// cannot leak into a test
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "AI_DEFAULT_PROVIDER", "AI_PROVIDERS_FILE",
		"AI_RETRY_MAX_ATTEMPTS", "AI_RETRY_BASE_DELAY", "AI_RETRY_MAX_DELAY",
		"AI_MAX_ADMISSION_WAIT", "AI_RATE_SAFETY_MARGIN",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_TIMEOUT",
		"OPENAI_REQUESTS_PER_MINUTE", "OPENAI_REQUESTS_PER_DAY",
		"GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODEL", "GEMINI_TIMEOUT",
		"GEMINI_REQUESTS_PER_MINUTE", "GEMINI_REQUESTS_PER_DAY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, 75*time.Second, cfg.MaxAdmissionWait)
	assert.Equal(t, 1.0, cfg.SafetyMargin)

	require.Contains(t, cfg.Providers, "openai")
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.NotContains(t, cfg.Providers, "gemini")
}

func TestLoad_ProviderSettingsFromEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-test")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("GEMINI_TIMEOUT", "30s")
	t.Setenv("GEMINI_REQUESTS_PER_MINUTE", "15")
	t.Setenv("GEMINI_REQUESTS_PER_DAY", "1500")
	t.Setenv("AI_DEFAULT_PROVIDER", "gemini")

	cfg, err := Load()
	require.NoError(t, err)

	settings := cfg.Providers["gemini"]
	assert.Equal(t, "gemini-1.5-pro", settings.Model)
	assert.Equal(t, 30*time.Second, settings.Timeout)
	assert.Equal(t, 15, settings.RequestsPerMinute)
	assert.Equal(t, 1500, settings.RequestsPerDay)
}

func TestLoad_NoCredentialsFails(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
}

func TestLoad_DefaultProviderWithoutCredentialsFails(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_DEFAULT_PROVIDER", "gemini")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "gemini")
}

func TestLoad_InvalidSafetyMarginFails(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_RATE_SAFETY_MARGIN", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "SafetyMargin")
}

func TestLoad_ProvidersFile(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_REQUESTS_PER_MINUTE", "60")

	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  openai:
    model: gpt-4o
    requests_per_minute: 20
    requests_per_day: 5000
  gemini:
    requests_per_minute: 10
`), 0o600))
	t.Setenv("AI_PROVIDERS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	settings := cfg.Providers["openai"]
	assert.Equal(t, "gpt-4o", settings.Model)
	assert.Equal(t, 20, settings.RequestsPerMinute)
	assert.Equal(t, 5000, settings.RequestsPerDay)

	// Overrides for a provider without credentials are ignored
	assert.NotContains(t, cfg.Providers, "gemini")
}

func TestLoad_ProvidersFileMissing(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_PROVIDERS_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
}

func TestLoad_ProvidersFileMalformed(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [not a map"), 0o600))
	t.Setenv("AI_PROVIDERS_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
}

func TestProviderConfig(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderSettings{
			"openai": {APIKey: "sk-test", Model: "gpt-4o", Timeout: 10 * time.Second},
		},
	}

	pc, err := cfg.ProviderConfig("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, "gpt-4o", pc.Model)
	assert.Equal(t, 10*time.Second, pc.Timeout)

	_, err = cfg.ProviderConfig("gemini")
	require.Error(t, err)
	assert.True(t, services.IsConfigurationError(err))
}

func TestLimits_SafetyMarginApplied(t *testing.T) {
	cfg := &Config{
		SafetyMargin: 0.8,
		Providers: map[string]ProviderSettings{
			"openai": {APIKey: "k", RequestsPerMinute: 10, RequestsPerDay: 1000},
			"gemini": {APIKey: "k"},
		},
	}

	limits := cfg.Limits()
	assert.Equal(t, 8, limits["openai"].RequestsPerMinute)
	assert.Equal(t, 800, limits["openai"].RequestsPerDay)

	// Unset limits stay unlimited, never scaled
	assert.True(t, limits["gemini"].Unlimited())
}

func TestScaleLimit(t *testing.T) {
	assert.Equal(t, 0, scaleLimit(0, 0.5))
	assert.Equal(t, 5, scaleLimit(10, 0.5))
	// A configured limit never scales below one request
	assert.Equal(t, 1, scaleLimit(2, 0.1))
}
