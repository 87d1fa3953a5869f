// Package persistence carries the shared backend plumbing: retry with
// capped exponential backoff and transient-failure classification.
package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// RetryConfig defines retry behavior for backend calls
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts including the first
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Ceiling applied to any single delay
	BackoffFactor float64       // Exponential backoff multiplier
	JitterFactor  float64       // Jitter factor to prevent thundering herd
	OnRetry       func(attempt int, err error)
}

// DefaultRetryConfig returns the remote-backend retry policy: first retry
// after 100ms, doubling, at most 5 attempts, no single wait above 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Classifier decides whether an error is transient and worth retrying
type Classifier func(err error) bool

// IsTransient is the default classifier: network failures, dropped
// connections, and unexpected stream ends are retryable; everything else,
// including SQL rejections, is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryExhaustedError wraps the final error after all attempts on a
// transient failure were spent
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// RetryWithBackoff executes an operation, retrying transient failures with
// capped exponential backoff. Non-transient errors return unchanged so
// callers can classify them. A transient failure that survives every
// attempt returns a RetryExhaustedError.
func RetryWithBackoff(ctx context.Context, config RetryConfig, classify Classifier, operation func() error) error {
	if classify == nil {
		classify = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(config.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &RetryExhaustedError{Attempts: config.MaxAttempts, Err: lastErr}
}

// delay computes the wait before the next attempt
func (c RetryConfig) delay(attempt int) time.Duration {
	backoff := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	jitter := backoff * c.JitterFactor * (rand.Float64() - 0.5) * 2
	delay := time.Duration(backoff + jitter)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}
