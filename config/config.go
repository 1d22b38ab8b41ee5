package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/novelmill/ai-core/services"
	"github.com/novelmill/ai-core/services/providers"
	"github.com/novelmill/ai-core/services/ratelimit"
)

// validate is the singleton validator instance
var validate = validator.New()

// Config represents the complete orchestration configuration. Credentials and
// limits are static, supplied at process start; nothing here hot-reloads.
type Config struct {
	Environment     string
	DefaultProvider string `validate:"required"`

	// Providers maps provider name to its settings. A provider appears here
	// only when a credential is configured for it.
	Providers map[string]ProviderSettings `validate:"required,min=1,dive"`

	Retry RetrySettings

	// MaxAdmissionWait bounds how long admission may block before failing
	// fast. It bounds only rate-limit waiting, not network calls.
	MaxAdmissionWait time.Duration

	// SafetyMargin scales configured limits down (0 < margin <= 1). Upstream
	// enforcement windows rarely align with a client-side minute boundary, so
	// operators run below the nominal ceiling. Tunable, not a hard rule.
	SafetyMargin float64 `validate:"gt=0,lte=1"`
}

// ProviderSettings holds one provider's credential, model and limits
type ProviderSettings struct {
	APIKey            string `validate:"required"`
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	RequestsPerDay    int
}

// RetrySettings holds the retry executor knobs
type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// limitsFile is the optional YAML file with per-provider overrides
type limitsFile struct {
	Providers map[string]limitsEntry `yaml:"providers"`
}

type limitsEntry struct {
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	RequestsPerDay    int    `yaml:"requests_per_day"`
}

// Load reads configuration from the environment, merging the optional
// AI_PROVIDERS_FILE YAML overrides, and validates the result
func Load() (*Config, error) {
	// Load .env if present; ignore error as it's optional
	_ = godotenv.Load()

	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		DefaultProvider: getEnv("AI_DEFAULT_PROVIDER", "openai"),
		Providers:       make(map[string]ProviderSettings),
		Retry: RetrySettings{
			MaxAttempts: getEnvAsInt("AI_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("AI_RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:    getEnvAsDuration("AI_RETRY_MAX_DELAY", time.Minute),
		},
		MaxAdmissionWait: getEnvAsDuration("AI_MAX_ADMISSION_WAIT", 75*time.Second),
		SafetyMargin:     getEnvAsFloat("AI_RATE_SAFETY_MARGIN", 1.0),
	}

	for _, name := range []string{"openai", "gemini"} {
		settings, ok := loadProvider(name)
		if ok {
			cfg.Providers[name] = settings
		}
	}

	if file := os.Getenv("AI_PROVIDERS_FILE"); file != "" {
		if err := cfg.applyLimitsFile(file); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration before any network call is made
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return services.NewDomainError(services.ErrorTypeConfiguration,
				fmt.Sprintf("invalid configuration: field %s failed %q", first.Namespace(), first.Tag()), err)
		}
		return services.NewDomainError(services.ErrorTypeConfiguration, "invalid configuration", err)
	}

	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("default provider %q has no credentials configured", c.DefaultProvider), nil)
	}

	return nil
}

// ProviderConfig builds the adapter configuration for a provider
func (c *Config) ProviderConfig(name string) (providers.Config, error) {
	settings, ok := c.Providers[name]
	if !ok {
		return providers.Config{}, services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("provider %q is not configured", name), nil)
	}

	pc := providers.DefaultConfig()
	pc.APIKey = settings.APIKey
	pc.BaseURL = settings.BaseURL
	pc.Model = settings.Model
	if settings.Timeout > 0 {
		pc.Timeout = settings.Timeout
	}
	return pc, nil
}

// Limits returns the admission ceilings per provider with the safety margin
// applied. A configured limit never scales below one request.
func (c *Config) Limits() map[string]ratelimit.Limits {
	limits := make(map[string]ratelimit.Limits, len(c.Providers))
	for name, settings := range c.Providers {
		limits[name] = ratelimit.Limits{
			RequestsPerMinute: scaleLimit(settings.RequestsPerMinute, c.SafetyMargin),
			RequestsPerDay:    scaleLimit(settings.RequestsPerDay, c.SafetyMargin),
		}
	}
	return limits
}

// loadProvider reads one provider's settings from env; ok is false when no
// credential is present
func loadProvider(name string) (ProviderSettings, bool) {
	prefix := envPrefix(name)

	apiKey := os.Getenv(prefix + "_API_KEY")
	if apiKey == "" {
		return ProviderSettings{}, false
	}

	return ProviderSettings{
		APIKey:            apiKey,
		BaseURL:           os.Getenv(prefix + "_BASE_URL"),
		Model:             os.Getenv(prefix + "_MODEL"),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 0),
		RequestsPerMinute: getEnvAsInt(prefix+"_REQUESTS_PER_MINUTE", 0),
		RequestsPerDay:    getEnvAsInt(prefix+"_REQUESTS_PER_DAY", 0),
	}, true
}

// applyLimitsFile merges YAML overrides into already-loaded providers
func (c *Config) applyLimitsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("cannot read providers file %s", path), err)
	}

	var file limitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("cannot parse providers file %s", path), err)
	}

	for name, entry := range file.Providers {
		settings, ok := c.Providers[name]
		if !ok {
			// Limits for a provider without credentials are ignored
			continue
		}
		if entry.Model != "" {
			settings.Model = entry.Model
		}
		if entry.RequestsPerMinute > 0 {
			settings.RequestsPerMinute = entry.RequestsPerMinute
		}
		if entry.RequestsPerDay > 0 {
			settings.RequestsPerDay = entry.RequestsPerDay
		}
		c.Providers[name] = settings
	}

	return nil
}

// scaleLimit applies the safety margin, keeping configured limits at >= 1
func scaleLimit(limit int, margin float64) int {
	if limit <= 0 {
		return 0
	}
	scaled := int(math.Floor(float64(limit) * margin))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// envPrefix maps a provider name onto its env var prefix
func envPrefix(name string) string {
	switch name {
	case "openai":
		return "OPENAI"
	case "gemini":
		return "GEMINI"
	default:
		return ""
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
