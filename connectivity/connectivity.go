// Package connectivity hardens calls to upstream services.
//
// A Call is any context-aware operation that can fail. Middleware wraps a
// Call, adding cross-cutting behaviour (timeout, retry, panic recovery,
// circuit breaking) without changing the signature:
//
//	call := connectivity.Chain(
//		connectivity.Recovery(logger),
//		connectivity.WithTimeout(2*time.Minute),
//		connectivity.WithRetry(1, 2*time.Second, logger),
//		connectivity.WithCircuitBreaker(breaker, "hackernews"),
//	)(func(ctx context.Context) error {
//		return fetchFromUpstream(ctx)
//	})
//	err := call(ctx)
package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Call is a context-aware operation against an upstream service.
type Call func(ctx context.Context) error

// Middleware wraps a Call, adding cross-cutting behaviour without
// changing the signature.
type Middleware func(next Call) Call

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper (executed first on the call path).
//
//	chain := Chain(recovery, timeout, retry)
//	wrapped := chain(baseCall)
func Chain(mws ...Middleware) Middleware {
	return func(next Call) Call {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs every call with its duration.
func Logging(logger *slog.Logger, upstream string) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)
			dur := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "upstream call failed",
					"upstream", upstream,
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "upstream call ok",
					"upstream", upstream,
					"duration_ms", dur.Milliseconds())
			}
			return err
		}
	}
}

// WithTimeout returns a middleware that enforces a maximum call duration.
// If the deadline is exceeded, the call's goroutine keeps running (Go has
// no goroutine cancellation), but the caller gets an immediate
// context.DeadlineExceeded error. A zero duration disables the timeout.
func WithTimeout(d time.Duration) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx)
		}
	}
}

// Recovery returns a middleware that catches panics in downstream calls
// and converts them into errors instead of crashing the process.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := debug.Stack()
					logger.ErrorContext(ctx, "call panic recovered",
						"panic", r,
						"stack", string(stack))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx)
		}
	}
}
