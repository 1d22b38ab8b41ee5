package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/novelmill/ai-core/services"
	"github.com/novelmill/ai-core/services/providers"
	"go.uber.org/zap"
)

// Class is the retry classification of an error
type Class int

const (
	// ClassFatal errors bypass retry entirely
	ClassFatal Class = iota

	// ClassTransient errors retry after the base delay
	ClassTransient

	// ClassRateLimited errors retry with exponential backoff
	ClassRateLimited
)

// Policy is the retry configuration. Policy is data: attempts, backoff shape
// and the retryable-error predicate all live here, not in call sites.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// BaseDelay is the wait after a transient failure and the base of the
	// exponential backoff after a rate-limited one
	BaseDelay time.Duration

	// MaxDelay caps a single backoff wait
	MaxDelay time.Duration

	// Classify maps an error to its retry class
	Classify func(error) Class
}

// DefaultPolicy returns the policy used when callers do not supply one
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Classify:    DefaultClassify,
	}
}

// DefaultClassify classifies errors per the shared taxonomy.
//
// Local admission refusals are fatal here: the admission wait already bounded
// the acceptable delay, and backing off on top of it compounds waits. The
// caller owns that decision.
func DefaultClassify(err error) Class {
	switch {
	case err == nil:
		return ClassFatal
	case services.IsUpstreamRateLimitError(err), providers.IsRateLimited(err):
		return ClassRateLimited
	case services.IsRateLimitError(err):
		return ClassFatal
	case services.IsConfigurationError(err), services.IsValidationError(err):
		return ClassFatal
	case services.IsUpstreamError(err), services.IsParsingError(err):
		return ClassTransient
	case providers.IsRetryable(err):
		return ClassTransient
	default:
		return ClassFatal
	}
}

// ExhaustedError aggregates an exhausted retry loop, referencing the last cause
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last cause so type checks keep working through the wrap
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Executor wraps operations with bounded retries and computed backoff
type Executor struct {
	policy Policy
	logger *zap.Logger

	// Injectable for deterministic tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor with the given policy
func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Classify == nil {
		policy.Classify = DefaultClassify
	}
	return &Executor{
		policy: policy,
		logger: logger,
		sleep:  sleepWithContext,
	}
}

// Execute runs op up to MaxAttempts times. Fatal errors return immediately;
// the context is checked between attempts so an already-cancelled job does
// not keep waiting.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.delayFor(lastErr, attempt)
			e.logger.Debug("retrying after failure",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", e.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if e.policy.Classify(lastErr) == ClassFatal {
			return lastErr
		}
	}

	return &ExhaustedError{Attempts: e.policy.MaxAttempts, Last: lastErr}
}

// delayFor computes the wait before the given attempt (1-based for waits)
func (e *Executor) delayFor(err error, attempt int) time.Duration {
	delay := e.policy.BaseDelay
	if e.policy.Classify(err) == ClassRateLimited {
		delay = e.policy.BaseDelay << uint(attempt-1)
	}
	if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	return delay
}

// sleepWithContext sleeps for d or until the context is cancelled
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
