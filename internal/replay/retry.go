package replay

import (
	"context"
	"fmt"
	"time"
)

// maxRetryDelay caps the doubling backoff between RPC attempts.
const maxRetryDelay = 10 * time.Second

// withRetry runs fn until it succeeds, maxRetries is exhausted or ctx is done. The last
// error is returned wrapped with op and the number of attempts.
func withRetry(ctx context.Context, op string, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := min(baseDelay, maxRetryDelay)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > maxRetries {
			return fmt.Errorf("%s: %d attempts: %w", op, attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, maxRetryDelay)
	}
}
