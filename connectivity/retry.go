// CLAUDE:SUMMARY Retry middleware with exponential backoff, context-aware waits, and circuit-open short-circuit.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// WithRetry returns a Middleware that retries failed calls with
// exponential backoff. It respects context cancellation between retries.
//
// Parameters:
//   - maxRetries: maximum number of retry attempts (0 = no retry)
//   - baseBackoff: initial wait between retries, doubled each attempt
//   - logger: used to log retry attempts (may be nil for silent retries)
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				err := next(ctx)
				if err == nil {
					return nil
				}
				lastErr = err

				// Don't retry if context is done.
				if ctx.Err() != nil {
					return lastErr
				}

				// Don't retry on circuit open — it won't help.
				var open *ErrCircuitOpen
				if errors.As(err, &open) {
					return err
				}

				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying call",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return lastErr
					case <-time.After(wait):
					}
				}
			}
			return lastErr
		}
	}
}
