package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/novelmill/ai-core/services"
)

// fakeClock drives the service's injected now/sleep so window expiry is
// deterministic. Sleeping advances the clock instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestService(clock *fakeClock, limits map[string]Limits) *Service {
	svc := NewService(limits, zap.NewNop())
	svc.now = clock.Now
	svc.sleep = clock.Sleep
	return svc
}

func TestAdmit_UnderLimit(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 3, RequestsPerDay: 100},
	})

	for i := 0; i < 3; i++ {
		if err := svc.Admit(context.Background(), "openai", 0); err != nil {
			t.Fatalf("Admit() #%d failed: %v", i+1, err)
		}
	}

	minute, day := svc.Usage("openai")
	if minute != 3 || day != 3 {
		t.Errorf("Usage() = (%d, %d), want (3, 3)", minute, day)
	}
}

func TestAdmit_UnlimitedProvider(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, nil)

	for i := 0; i < 1000; i++ {
		if err := svc.Admit(context.Background(), "openai", 0); err != nil {
			t.Fatalf("unlimited provider refused admission: %v", err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("unlimited provider slept %d times", len(clock.sleeps))
	}
}

func TestAdmit_WaitsUntilOldestExpires(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 2},
	})

	ctx := context.Background()
	if err := svc.Admit(ctx, "openai", 0); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if err := svc.Admit(ctx, "openai", 0); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}

	clock.Advance(10 * time.Second)

	// Window is full; the oldest stamp expires in 50s
	if err := svc.Admit(ctx, "openai", 75*time.Second); err != nil {
		t.Fatalf("Admit() should wait and succeed, got %v", err)
	}

	if len(clock.sleeps) != 1 {
		t.Fatalf("slept %d times, want 1", len(clock.sleeps))
	}
	want := 50*time.Second + reCheckGrace
	if clock.sleeps[0] != want {
		t.Errorf("slept %v, want %v", clock.sleeps[0], want)
	}
}

func TestAdmit_FailsFastWhenWaitExceedsBudget(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 2},
	})

	ctx := context.Background()
	svc.Admit(ctx, "openai", 0)
	svc.Admit(ctx, "openai", 0)

	err := svc.Admit(ctx, "openai", 30*time.Second)
	if err == nil {
		t.Fatal("Admit() should refuse when the wait exceeds the budget")
	}
	if !services.IsRateLimitError(err) {
		t.Errorf("error should be a rate limit error, got %v", err)
	}

	retryAfter, ok := services.RetryAfter(err)
	if !ok {
		t.Fatal("refusal should carry retry_after")
	}
	want := time.Minute + reCheckGrace
	if retryAfter != want {
		t.Errorf("retry_after = %v, want %v", retryAfter, want)
	}

	// Refusal must not consume a slot
	if len(clock.sleeps) != 0 {
		t.Errorf("refusal slept %d times", len(clock.sleeps))
	}
	minute, _ := svc.Usage("openai")
	if minute != 2 {
		t.Errorf("Usage() minute = %d, want 2", minute)
	}
}

func TestAdmit_DayWindowDominates(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 100, RequestsPerDay: 2},
	})

	ctx := context.Background()
	svc.Admit(ctx, "openai", 0)
	svc.Admit(ctx, "openai", 0)

	err := svc.Admit(ctx, "openai", time.Minute)
	if err == nil {
		t.Fatal("day ceiling should refuse the third admission")
	}

	retryAfter, ok := services.RetryAfter(err)
	if !ok {
		t.Fatal("refusal should carry retry_after")
	}
	if retryAfter != dayWindow+reCheckGrace {
		t.Errorf("retry_after = %v, want %v", retryAfter, dayWindow+reCheckGrace)
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 2},
	})

	ctx := context.Background()
	svc.Admit(ctx, "openai", 0)
	svc.Admit(ctx, "openai", 0)

	clock.Advance(minuteWindow + time.Second)

	if err := svc.Admit(ctx, "openai", 0); err != nil {
		t.Fatalf("Admit() after window expiry failed: %v", err)
	}
	minute, day := svc.Usage("openai")
	if minute != 1 {
		t.Errorf("minute usage = %d, want 1", minute)
	}
	if day != 3 {
		t.Errorf("day usage = %d, want 3", day)
	}
}

func TestAdmit_ProvidersAreIsolated(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 1},
		"gemini": {RequestsPerMinute: 1},
	})

	ctx := context.Background()
	if err := svc.Admit(ctx, "openai", 0); err != nil {
		t.Fatalf("Admit(openai) failed: %v", err)
	}
	if err := svc.Admit(ctx, "gemini", 0); err != nil {
		t.Fatalf("exhausting openai should not affect gemini: %v", err)
	}
	if err := svc.Admit(ctx, "openai", 0); err == nil {
		t.Error("second openai admission should be refused")
	}
}

func TestAdmit_ConcurrentNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	limit := 5
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: limit},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Admit(context.Background(), "openai", 0); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted %d requests, want exactly %d", admitted, limit)
	}
}

func TestAdmit_ContextCancelledDuringWait(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(clock, map[string]Limits{
		"openai": {RequestsPerMinute: 1},
	})
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	ctx := context.Background()
	svc.Admit(ctx, "openai", 0)

	err := svc.Admit(ctx, "openai", 2*time.Minute)
	if err != context.Canceled {
		t.Errorf("Admit() error = %v, want context.Canceled", err)
	}
}

func TestUnlimited(t *testing.T) {
	if !(Limits{}).Unlimited() {
		t.Error("zero limits should be unlimited")
	}
	if (Limits{RequestsPerMinute: 1}).Unlimited() {
		t.Error("minute ceiling should not be unlimited")
	}
	if (Limits{RequestsPerDay: 1}).Unlimited() {
		t.Error("day ceiling should not be unlimited")
	}
}

func TestPrune(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(10 * time.Second), base.Add(20 * time.Second)}

	got := prune(stamps, base.Add(10*time.Second))
	if len(got) != 1 {
		t.Fatalf("prune kept %d stamps, want 1", len(got))
	}
	if !got[0].Equal(base.Add(20 * time.Second)) {
		t.Errorf("kept stamp = %v", got[0])
	}
}
