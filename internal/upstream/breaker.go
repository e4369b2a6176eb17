// Package upstream holds the plumbing shared by the metadata API clients:
// a circuit breaker wired to metrics and a JSON-over-HTTP helper.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// ErrUnavailable is returned while an upstream's breaker is open.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// Breaker guards one upstream. Not-found answers, rejected credentials and
// caller cancellations do not count as failures.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a breaker that opens after 5 consecutive failures and
// probes again after 30 seconds.
func NewBreaker(name string) *Breaker {
	telemetry.UpstreamBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled) ||
				IsUnauthorized(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("upstream circuit breaker state change",
				"upstream", name, "from", from.String(), "to", to.String())
			telemetry.UpstreamBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &Breaker{name: name, cb: cb}
}

// IsUnauthorized reports whether err is a 401 from the upstream. The caller
// owns the fix (a new token), so the upstream itself is healthy.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// Name returns the upstream name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the breaker state as closed, half-open or open
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Call runs fn through the breaker and records its duration.
func Call[T any](b *Breaker, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})

	outcome := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "breaker_open"
		err = ErrUnavailable
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	telemetry.UpstreamRequestDuration.
		WithLabelValues(b.name, operation, outcome).
		Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
