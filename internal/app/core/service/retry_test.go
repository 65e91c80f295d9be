package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryPolicy, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call under the default single-attempt policy, got %d", calls)
	}
}

func TestRetryReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	wantErr := errors.New("transient failure")
	calls := 0
	policy := RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2}
	err := Retry(context.Background(), policy, func() error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected the last error to be returned, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected all 3 attempts to run, got %d", calls)
	}
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Attempts: 5, InitialBackoff: time.Millisecond}
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("not yet")
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry to stop once fn succeeds, got %d calls", calls)
	}
}

func TestRetryRespectsContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{Attempts: 3, InitialBackoff: time.Hour}
	calls := 0
	err := Retry(ctx, policy, func() error {
		calls++
		return errors.New("fails")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled once backoff waits on a cancelled context, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before the cancelled context aborts backoff, got %d", calls)
	}
}
