package util

import (
	"context"
	"time"
)

// Retry runs fn up to max+1 times with doubling backoff between attempts.
func Retry(ctx context.Context, max int, backoff time.Duration, fn func() error) error {
	return RetryIf(ctx, max, backoff, func(error) bool { return true }, fn)
}

// RetryIf is Retry with a predicate: an error the predicate rejects is
// returned immediately instead of being retried. The explorer client uses
// this to avoid hammering an API that already answered with a hard error.
func RetryIf(ctx context.Context, max int, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == max {
			break
		}
		wait := backoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
