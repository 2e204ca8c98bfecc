package bulkapi

import (
	"context"
	"errors"
	"math"
	"net"
	"slices"
	"time"
)

// RetryPolicy bounds per-request retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// StatusCodes lists HTTP statuses treated as transient.
	StatusCodes []int
}

// Backoff returns the wait before retrying after the given failed attempt:
// InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return min(p.InitialBackoff, p.maxBackoff())
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	backoff := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if backoff > float64(p.maxBackoff()) {
		return p.maxBackoff()
	}
	return time.Duration(backoff)
}

func (p RetryPolicy) maxBackoff() time.Duration {
	if p.MaxBackoff <= 0 {
		return time.Hour
	}
	return p.MaxBackoff
}

// Retryable reports whether err is a transient failure worth retrying.
// Context cancellation never is.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return slices.Contains(p.StatusCodes, se.Code)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Transport failures surface as *url.Error wrapping a net.Error above;
	// anything else from the round trip (reset, EOF) is also connection level.
	var te *transportError
	return errors.As(err, &te)
}

// transportError marks a failure of the HTTP round trip itself.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
