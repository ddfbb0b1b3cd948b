package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("still broken")
	calls := 0
	err := Retry(context.Background(), 4, time.Millisecond, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error %v, got %v", wantErr, err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, time.Minute, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error after cancellation, got nil")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("bad api key")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		return Permanent(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the permanent error %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Fatalf("a permanent error must stop retries, got %d attempts", calls)
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Fatalf("the wrapper must be unwrapped before returning, got %T", err)
	}
}

func TestRetryTreatsNonPositiveAttemptsAsOne(t *testing.T) {
	t.Parallel()

	calls := 0
	_ = Retry(context.Background(), 0, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := BackoffDelay(base, tc.attempt); got != tc.want {
			t.Errorf("BackoffDelay(%v, %d) = %v, want %v", base, tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelayCapsTheExponent(t *testing.T) {
	t.Parallel()

	base := time.Millisecond
	capped := BackoffDelay(base, 16)
	if got := BackoffDelay(base, 40); got != capped {
		t.Fatalf("expected attempt 40 to cap at %v, got %v", capped, got)
	}
}
