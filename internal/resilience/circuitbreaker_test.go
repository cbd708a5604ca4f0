package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errProvider = errors.New("provider 503")

// fakeClock is advanced by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects state-change callbacks.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) record(name string, from, to State) {
	r.mu.Lock()
	r.got = append(r.got, fmt.Sprintf("%s:%s->%s", name, from, to))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newTestBreaker(clock *fakeClock, rec *recorder) *CircuitBreaker {
	cfg := CircuitBreakerConfig{
		Name:         "openai",
		MaxFailures:  2,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  2,
		Now:          clock.Now,
	}
	if rec != nil {
		cfg.OnStateChange = rec.record
	}
	return NewCircuitBreaker(cfg)
}

func fail() error    { return errProvider }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "openai"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout || cb.cfg.HalfOpenMax != DefaultHalfOpenMax {
		t.Errorf("cfg = %+v, want defaults", cb.cfg)
	}
	if cb.cfg.Now == nil {
		t.Error("Now not defaulted")
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	rec := &recorder{}
	cb := newTestBreaker(clock, rec)

	// Closed: one failure then a success keeps the streak from building.
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (streak was broken)", cb.State())
	}

	// Second consecutive failure opens.
	if err := cb.Execute(fail); !errors.Is(err, errProvider) {
		t.Fatalf("err = %v, want provider error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn ran while open")
	}

	clock.Advance(29 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open before the reset timeout", cb.State())
	}
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	// Two probe successes close it.
	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	want := []string{"openai:closed->open", "openai:open->half-open", "openai:half-open->closed"}
	got := rec.list()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(30 * time.Second)

	if err := cb.Execute(fail); !errors.Is(err, errProvider) {
		t.Fatalf("err = %v, want provider error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.State())
	}

	// The reset timeout restarts from the failed probe.
	clock.Advance(15 * time.Second)
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(30 * time.Second)

	// Hold both probe slots open, then try a third call.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after both probes succeeded", cb.State())
	}
}

func TestCircuitBreaker_CallerCancelIsNeutral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantState State
	}{
		{name: "canceled", err: context.Canceled, wantState: StateClosed},
		{name: "wrapped canceled", err: fmt.Errorf("llm: %w", context.Canceled), wantState: StateClosed},
		{name: "deadline counts", err: context.DeadlineExceeded, wantState: StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb := newTestBreaker(newFakeClock(), nil)
			for range 3 {
				if err := cb.Execute(func() error { return tc.err }); !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
			}
			if cb.State() != tc.wantState {
				t.Errorf("state = %v, want %v", cb.State(), tc.wantState)
			}
		})
	}
}

func TestCircuitBreaker_CancelledProbeReturnsSlot(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(30 * time.Second)

	for range 3 {
		_ = cb.Execute(func() error { return context.Canceled })
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	_ = cb.Execute(succeed)
	_ = cb.Execute(succeed)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	cb := newTestBreaker(newFakeClock(), rec)

	cb.Reset()
	if len(rec.list()) != 0 {
		t.Errorf("reset of a closed breaker reported %v", rec.list())
	}

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("after reset: %v", err)
	}
	if got := rec.list(); len(got) != 2 || got[1] != "openai:open->closed" {
		t.Errorf("transitions = %v", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
