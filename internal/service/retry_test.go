package service

import (
	"context"
	"errors"
	"testing"
)

func TestRetryTransient(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retryTransient(ctx, 5, func() error {
		calls++
		if calls < 3 {
			return errDeadlock
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v calls = %d, want nil after 3", err, calls)
	}

	calls = 0
	err = retryTransient(ctx, 3, func() error { calls++; return errDeadlock })
	if !errors.Is(err, errDeadlock) || calls != 3 {
		t.Fatalf("err = %v calls = %d, want deadlock after 3", err, calls)
	}

	calls = 0
	plain := errors.New("syntax error")
	err = retryTransient(ctx, 5, func() error { calls++; return plain })
	if !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("err = %v calls = %d, want no retry for non-transient errors", err, calls)
	}
}

func TestRetryTransientStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryTransient(ctx, 10, func() error {
		calls++
		cancel()
		return errDeadlock
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err = %v calls = %d, want context.Canceled after 1", err, calls)
	}
}
