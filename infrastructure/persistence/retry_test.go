package persistence

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(5), nil, func() error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NonTransientReturnsImmediately(t *testing.T) {
	boom := errors.New("syntax error at or near SELEC")
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(5), nil, func() error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	var exhausted *RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetryWithBackoff_ExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	var retries []int
	cfg := fastRetryConfig(5)
	cfg.OnRetry = func(attempt int, err error) { retries = append(retries, attempt) }

	err := RetryWithBackoff(context.Background(), cfg, nil, func() error {
		calls++
		return io.EOF
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []int{1, 2, 3, 4}, retries)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.Err, io.EOF)
}

func TestRetryWithBackoff_ContextCancellationStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}

	done := make(chan error, 1)
	go func() {
		done <- RetryWithBackoff(ctx, cfg, nil, func() error { return io.EOF })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"eof", io.EOF, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("column does not exist"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryConfig_DelayIsCapped(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}

	// Attempt 10 would be 102s uncapped
	assert.LessOrEqual(t, cfg.delay(10), 10*time.Second)
	assert.GreaterOrEqual(t, cfg.delay(0), 50*time.Millisecond)
}
