package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCallPolicyRetriesTransient(t *testing.T) {
	p := NewCallPolicy(0, time.Millisecond, 3, zerolog.Nop())

	retries := 0
	p.OnRetry(func() { retries++ })

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("retry callback fired %d times, want 2", retries)
	}
}

func TestCallPolicyExhaustsRetries(t *testing.T) {
	p := NewCallPolicy(0, time.Millisecond, 3, zerolog.Nop())

	calls := 0
	transient := &TransientError{StatusCode: 500, Err: errors.New("boom")}
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("Do() error = %v, want last transient error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want attempt cap 3", calls)
	}
}

func TestCallPolicyFatalNotRetried(t *testing.T) {
	p := NewCallPolicy(0, time.Millisecond, 5, zerolog.Nop())

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return &FatalError{StatusCode: 400, Code: "BAD_REQUEST", Err: errors.New("rejected")}
	})

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Do() error = %v, want FatalError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-transient error", calls)
	}
}

func TestCallPolicyRateLimit(t *testing.T) {
	spacing := 20 * time.Millisecond
	p := NewCallPolicy(spacing, time.Millisecond, 1, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Do(context.Background(), "test", func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Do() error: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 2*spacing {
		t.Errorf("3 calls took %v, want at least %v of spacing", elapsed, 2*spacing)
	}
}

func TestCallPolicyContextCancel(t *testing.T) {
	p := NewCallPolicy(0, time.Hour, 3, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	// The first attempt fails transiently; the hour-long backoff must be
	// interrupted by cancellation
	err := p.Do(ctx, "test", func(ctx context.Context) error {
		return &TransientError{Err: errors.New("slow down")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&TransientError{Err: errors.New("x")}) {
		t.Error("TransientError not recognized")
	}
	if IsTransient(&FatalError{Err: errors.New("x")}) {
		t.Error("FatalError wrongly treated as transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error wrongly treated as transient")
	}

	wrapped := &TransientError{StatusCode: 429, Err: errors.New("rate limited")}
	if !IsTransient(wrapped) {
		t.Error("429 error not transient")
	}
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !transientStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		if transientStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}
