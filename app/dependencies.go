package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/novelmill/ai-core/config"
	"github.com/novelmill/ai-core/services/analysis"
	"github.com/novelmill/ai-core/services/providers"
	"github.com/novelmill/ai-core/services/providers/gemini"
	"github.com/novelmill/ai-core/services/providers/openai"
	"github.com/novelmill/ai-core/services/ratelimit"
	"github.com/novelmill/ai-core/services/retry"
	"github.com/novelmill/ai-core/services/translation"
)

// Dependencies holds the wired orchestration core. This is the central
// dependency-injection point: registry and rate-limit state are owned here
// and injected into services, never ambient globals.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *providers.Registry
	Limiter  *ratelimit.Service
	Executor *retry.Executor

	// Providers are the constructed adapters, keyed by name
	Providers map[string]providers.Provider

	Analysis    *analysis.Service
	Translation *translation.Service
}

// Options tweaks wiring that the configuration does not cover
type Options struct {
	// Contexts supplies TranslationContext per job. May be nil when callers
	// pass contexts directly on each request.
	Contexts translation.ContextProvider
}

// NewDependencies wires the orchestration core from configuration.
// Registration happens once here; the registry is read-only afterwards.
func NewDependencies(cfg *config.Config, logger *zap.Logger, opts Options) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Providers: make(map[string]providers.Provider),
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initRateLimiter(cfg)
	deps.initRetry(cfg)
	deps.initServices(cfg, opts)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initProviders registers the built-in adapter factories and constructs an
// adapter for every provider with credentials
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()
	_ = registry.Register("openai", openai.Factory)
	_ = registry.Register("gemini", gemini.Factory)

	for name := range cfg.Providers {
		providerCfg, err := cfg.ProviderConfig(name)
		if err != nil {
			return err
		}
		provider, err := registry.Build(name, providerCfg)
		if err != nil {
			return fmt.Errorf("failed to build provider %s: %w", name, err)
		}
		d.Providers[name] = provider
		d.Logger.Info("registered provider",
			zap.String("provider", name),
			zap.String("model", provider.DefaultModel()))
	}

	if len(d.Providers) == 0 {
		d.Logger.Warn("no AI providers configured")
	}

	d.Registry = registry
	return nil
}

// initRateLimiter builds the shared admission service from configured limits
func (d *Dependencies) initRateLimiter(cfg *config.Config) {
	d.Limiter = ratelimit.NewService(cfg.Limits(), d.Logger)
}

// initRetry builds the shared retry executor
func (d *Dependencies) initRetry(cfg *config.Config) {
	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay > 0 {
		policy.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		policy.MaxDelay = cfg.Retry.MaxDelay
	}
	d.Executor = retry.NewExecutor(policy, d.Logger)
}

// initServices builds the orchestration services on the default provider
func (d *Dependencies) initServices(cfg *config.Config, opts Options) {
	provider := d.Providers[cfg.DefaultProvider]

	d.Analysis = analysis.NewService(provider, d.Limiter, d.Executor, cfg.MaxAdmissionWait, d.Logger)
	d.Translation = translation.NewService(provider, opts.Contexts, d.Limiter, d.Executor, cfg.MaxAdmissionWait, d.Logger)
}

// Close flushes buffered log entries
func (d *Dependencies) Close() error {
	d.Logger.Info("shutting down dependencies")

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
