package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	var transitions []State
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(_ string, _, to State) {
			transitions = append(transitions, to)
		},
		Now: func() time.Time { return now },
	})

	for range 2 {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected ErrCircuitOpen without a call, got %v (called %v)", err, called)
	}

	now = now.Add(31 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreakerSingleTrialCall(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("listing-fetcher", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		Now:              func() time.Time { return now },
	})
	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(time.Minute)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(trialStarted)
			<-release
			return errBoom
		})
	}()
	<-trialStarted
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during trial call = %v, want ErrCircuitOpen", err)
	}
	close(release)
	<-done
	if cb.GetState() != StateOpen {
		t.Fatalf("failed trial call left state %v, want open", cb.GetState())
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	errBadInput := errors.New("bad input")
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBadInput) },
	})
	for range 5 {
		_ = cb.Execute(func() error { return errBadInput })
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.GetState())
	}
}

func TestCall(t *testing.T) {
	cb := NewCircuitBreaker("fetch", CircuitBreakerConfig{})
	got, err := Call(cb, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("Call = %d, %v", got, err)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "publish", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return false },
	}, func() error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "restore", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestWithTimeoutValue(t *testing.T) {
	_, err := WithTimeoutValue(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) ([]int, error) {
		<-ctx.Done()
		return []int{1}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	got, err := WithTimeoutValue(context.Background(), time.Second, "fast", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "history-insert", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errBoom)
	})
	if calls != 1 || !IsPermanent(err) || !errors.Is(err, errBoom) {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must stay nil")
	}
}

func TestRetryValue(t *testing.T) {
	calls := 0
	rows, err := RetryValue(context.Background(), "restore-scores", RetryConfig{InitialDelay: time.Millisecond}, func() ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errBoom
		}
		return []string{"global:address"}, nil
	})
	if err != nil || len(rows) != 1 || calls != 2 {
		t.Fatalf("rows = %v, err = %v, calls = %d", rows, err, calls)
	}

	_, err = RetryValue(context.Background(), "restore-scores", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() (int, error) {
		return 0, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "kafka-handle", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errBoom
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestBackoffBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.1}
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt, cfg)
		if d < cfg.InitialDelay || d > cfg.MaxDelay {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, cfg.InitialDelay, cfg.MaxDelay)
		}
	}
}
