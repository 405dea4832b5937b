package retry

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/4xmen/peyk/internal/apperr"
)

const (
	DefaultMaxRetries     = 3
	DefaultAttemptTimeout = 30 * time.Second
	maxBackoff            = 10 * time.Second
)

var retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "peyk_retry_attempts_total",
	Help: "Retry attempts per outbound operation, counted after the first failure.",
}, []string{"operation"})

// Executor wraps outbound operations with a connectivity check, a
// per-attempt timeout, and exponential backoff for connectivity-shaped
// failures. Permission and validation errors are never retried.
type Executor struct {
	MaxRetries     int
	AttemptTimeout time.Duration

	// Online reports whether the network looks reachable. Nil means
	// assume reachable. Checked once before the first attempt.
	Online func() bool

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func NewExecutor() *Executor {
	return &Executor{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
		sleep:          time.Sleep,
	}
}

// Do runs fn, retrying connectivity-shaped failures up to MaxRetries times.
// No operation runs more than MaxRetries+1 total attempts.
func (e *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	maxRetries := e.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	timeout := e.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	sleep := e.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	if e.Online != nil && !e.Online() {
		return apperr.Wrap(apperr.KindConnection, "network unavailable, try again", nil)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			retryAttempts.WithLabelValues(name).Inc()
			sleep(backoff(attempt - 1))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		log.Printf("retry: %s attempt %d/%d failed: %v", name, attempt+1, maxRetries+1, err)
	}

	return apperr.Connection(name, maxRetries+1, lastErr)
}

// backoff returns min(1s * 2^attempt, 10s).
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// retryable reports whether err looks like a transient connectivity
// failure. Permission, validation, upload, and not-found errors abort
// immediately; so does any other business error.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if apperr.IsKind(err, apperr.KindConnection) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
