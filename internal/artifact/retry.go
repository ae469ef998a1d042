package artifact

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	retryAttempts = 5
	retryBase     = 100 * time.Millisecond
)

// withBackoff retries fn with jittered exponential backoff. Object store
// operations are idempotent, so every failure is retried until the attempt
// budget runs out.
func withBackoff(ctx context.Context, fn func() error) error {
	delay := retryBase
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
