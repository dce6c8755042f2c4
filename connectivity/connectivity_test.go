package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(clock))

	if cb.State() != BreakerClosed {
		t.Fatalf("initial state = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after 2 failures = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state after 3 failures = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	// After the reset timeout the breaker probes in half-open.
	now = now.Add(150 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("half-open breaker rejected the probe call")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after half-open success = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(clock))

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	now = now.Add(60 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state after half-open failure = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("reopened breaker allowed a call")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after reset = %v, want closed", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("reset breaker rejected a call")
	}
}

func TestWithCircuitBreaker_Middleware(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))

	calls := 0
	base := func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	}
	wrapped := WithCircuitBreaker(cb, "api")(base)

	if err := wrapped(context.Background()); err == nil {
		t.Fatal("expected error from base call")
	}

	// Breaker is now open: the second call is rejected without
	// reaching the base call.
	err := wrapped(context.Background())
	var eco *ErrCircuitOpen
	if !errors.As(err, &eco) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if eco.Upstream != "api" {
		t.Fatalf("ErrCircuitOpen.Upstream = %q, want %q", eco.Upstream, "api")
	}
	if calls != 1 {
		t.Fatalf("base called %d times, want 1", calls)
	}
}

func TestWithCircuitBreaker_SuccessKeepsClosed(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	wrapped := WithCircuitBreaker(cb, "api")(func(ctx context.Context) error {
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := wrapped(context.Background()); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}
	wrapped := WithRetry(3, time.Millisecond, nil)(base)

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_Exhausted(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context) error {
		attempts++
		return errors.New("persistent")
	}
	wrapped := WithRetry(2, time.Millisecond, nil)(base)

	err := wrapped(context.Background())
	if err == nil || err.Error() != "persistent" {
		t.Fatalf("err = %v, want persistent", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	base := func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	}
	wrapped := WithRetry(5, time.Millisecond, nil)(base)

	if err := wrapped(ctx); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry after cancel)", attempts)
	}
}

func TestWithRetry_CircuitOpenShortCircuit(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context) error {
		attempts++
		return &ErrCircuitOpen{Upstream: "api"}
	}
	wrapped := WithRetry(5, time.Millisecond, nil)(base)

	err := wrapped(context.Background())
	var eco *ErrCircuitOpen
	if !errors.As(err, &eco) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (retrying an open circuit is pointless)", attempts)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Call) Call {
			return func(ctx context.Context) error {
				order = append(order, name+"-before")
				err := next(ctx)
				order = append(order, name+"-after")
				return err
			}
		}
	}

	wrapped := Chain(mw("mw1"), mw("mw2"))(func(ctx context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRecovery(t *testing.T) {
	wrapped := Recovery(slog.Default())(func(ctx context.Context) error {
		panic("kaboom")
	})

	err := wrapped(context.Background())
	var ep *ErrPanic
	if !errors.As(err, &ep) {
		t.Fatalf("err = %v, want ErrPanic", err)
	}
	if ep.Value != "kaboom" {
		t.Fatalf("ErrPanic.Value = %v, want kaboom", ep.Value)
	}
}

func TestRecovery_PassthroughError(t *testing.T) {
	want := errors.New("ordinary failure")
	wrapped := Recovery(slog.Default())(func(ctx context.Context) error {
		return want
	})
	if err := wrapped(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestWithTimeout(t *testing.T) {
	wrapped := WithTimeout(20 * time.Millisecond)(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return errors.New("should have timed out")
		}
	})

	err := wrapped(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	wrapped := WithTimeout(0)(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})
	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
