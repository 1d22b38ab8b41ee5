package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/novelmill/ai-core/services"
	"go.uber.org/zap"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour

	// Re-check slightly after the oldest stamp expires so a clock at the
	// exact boundary does not spin.
	reCheckGrace = 5 * time.Millisecond
)

// Limits holds the per-provider admission ceilings. A zero value means that
// window is unlimited. Operators should set these strictly below the nominal
// upstream ceiling: upstream enforcement windows rarely align with a
// client-side minute boundary.
type Limits struct {
	RequestsPerMinute int
	RequestsPerDay    int
}

// Unlimited reports whether no ceiling is configured for either window
func (l Limits) Unlimited() bool {
	return l.RequestsPerMinute <= 0 && l.RequestsPerDay <= 0
}

// providerState holds the two ordered timestamp windows for one provider.
// The mutex serializes the full prune -> check -> append sequence; partial
// execution under concurrency is the primary correctness risk here.
type providerState struct {
	mu     sync.Mutex
	minute []time.Time
	day    []time.Time
}

// Service performs sliding-window admission control per provider. State is
// created lazily per provider name and lives for the process lifetime.
// Bursts on one provider never affect admission for another.
type Service struct {
	mu     sync.Mutex
	states map[string]*providerState
	limits map[string]Limits
	logger *zap.Logger

	// Injectable for deterministic tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a new admission service with static per-provider limits
func NewService(limits map[string]Limits, logger *zap.Logger) *Service {
	if limits == nil {
		limits = make(map[string]Limits)
	}
	return &Service{
		states: make(map[string]*providerState),
		limits: limits,
		logger: logger,
		now:    time.Now,
		sleep:  sleepWithContext,
	}
}

// Admit blocks until a request slot is available for the provider, or fails
// with a rate limit error when the computed wait exceeds maxWait. On success
// the current timestamp has been appended to both windows, so the admitted
// count can never exceed the configured ceiling.
//
// A provider with no configured limits admits immediately. maxWait bounds
// only this admission wait; network timeouts are an adapter concern.
func (s *Service) Admit(ctx context.Context, provider string, maxWait time.Duration) error {
	limits := s.limits[provider]
	if limits.Unlimited() {
		return nil
	}

	state := s.stateFor(provider)

	var waited time.Duration
	for {
		wait, ok := state.tryAdmit(s.now(), limits)
		if ok {
			if waited > 0 {
				s.logger.Debug("admitted after wait",
					zap.String("provider", provider),
					zap.Duration("waited", waited))
			}
			return nil
		}

		if waited+wait > maxWait {
			s.logger.Warn("admission refused",
				zap.String("provider", provider),
				zap.Duration("retry_after", wait),
				zap.Duration("max_wait", maxWait))
			return services.NewRateLimitExceeded(provider, wait)
		}

		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// Usage returns the current in-window counts for a provider
func (s *Service) Usage(provider string) (lastMinute, lastDay int) {
	state := s.stateFor(provider)

	state.mu.Lock()
	defer state.mu.Unlock()

	now := s.now()
	state.minute = prune(state.minute, now.Add(-minuteWindow))
	state.day = prune(state.day, now.Add(-dayWindow))
	return len(state.minute), len(state.day)
}

// stateFor returns the window state for a provider, creating it lazily
func (s *Service) stateFor(provider string) *providerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.states[provider]
	if !exists {
		state = &providerState{}
		s.states[provider] = state
	}
	return state
}

// tryAdmit executes one prune -> check -> append pass as a single critical
// section. It returns (0, true) on admission, or the wait until the oldest
// in-window timestamp expires and false.
func (p *providerState) tryAdmit(now time.Time, limits Limits) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.minute = prune(p.minute, now.Add(-minuteWindow))
	p.day = prune(p.day, now.Add(-dayWindow))

	var wait time.Duration
	if limits.RequestsPerMinute > 0 && len(p.minute) >= limits.RequestsPerMinute {
		wait = p.minute[0].Add(minuteWindow).Sub(now)
	}
	if limits.RequestsPerDay > 0 && len(p.day) >= limits.RequestsPerDay {
		if w := p.day[0].Add(dayWindow).Sub(now); w > wait {
			wait = w
		}
	}

	if wait > 0 {
		return wait + reCheckGrace, false
	}

	p.minute = append(p.minute, now)
	p.day = append(p.day, now)
	return 0, true
}

// prune drops timestamps at or before the cutoff. Windows are ordered, so a
// single scan from the front suffices.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
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
