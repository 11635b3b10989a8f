package service

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/repository"
)

const (
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = 100 * time.Millisecond
)

// retryTransient runs op up to attempts times while it fails with a
// deadlock or lock-wait timeout, backing off 10ms, 20ms, ... capped at
// 100ms. Any other outcome is returned as is.
func retryTransient(ctx context.Context, attempts int, op func() error) error {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !repository.IsTransient(err) || attempt >= attempts {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
