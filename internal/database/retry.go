package database

import (
	"context"
	"time"
)

const (
	// WriteAttempts bounds how often a write is tried when the backend
	// reports a transient failure.
	WriteAttempts = 3

	retryBackoff = 50 * time.Millisecond
)

// Retry runs fn up to attempts times while isTransient reports the returned
// error as transient. The backoff grows linearly and honors ctx.
func Retry(ctx context.Context, attempts int, isTransient func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || isTransient == nil || !isTransient(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(time.Duration(attempt) * retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
