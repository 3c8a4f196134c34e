package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryFailsTwiceThenSucceeds(t *testing.T) {
	calls := 0
	delay := 20 * time.Millisecond
	start := time.Now()

	got, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary failure")
		}
		return "created", nil
	}, 5, delay, "create game")

	if err != nil {
		t.Fatalf("WithRetry err = %v, want nil", err)
	}
	if got != "created" {
		t.Fatalf("WithRetry result = %q, want %q", got, "created")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Fatalf("elapsed = %v, want at least %v", elapsed, 2*delay)
	}
}

func TestWithRetryReturnsFinalErrorUnchanged(t *testing.T) {
	sentinel := errors.New("backend unavailable")
	calls := 0

	_, err := WithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	}, 3, time.Millisecond, "save gold")

	if err != sentinel {
		t.Fatalf("err = %v, want the sentinel itself", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryClampsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	}, 0, time.Millisecond, "log activity")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sentinel := errors.New("timeout")
	calls := 0

	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return sentinel
	}, 5, time.Hour, "fetch profile")

	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
