package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxBackoff = 30 * time.Second

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to attempts times. The wait before attempt n+1 is drawn
// uniformly from [0, delay*2^n], capped at maxBackoff. op labels the
// binscan_retry_* counters.
func Retry[T any](ctx context.Context, op string, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}
	meter := otel.Meter("binscan")
	attemptCounter, _ := meter.Int64Counter("binscan_retry_attempts_total")
	failCounter, _ := meter.Int64Counter("binscan_retry_failures_total")
	attrs := metric.WithAttributes(attribute.String("op", op))

	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1, attrs)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			failCounter.Add(ctx, 1, attrs)
			return zero, perm.err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > maxBackoff {
			cur = maxBackoff
		}
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1, attrs)
			return zero, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(cur) + 1))):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1, attrs)
	return zero, lastErr
}
