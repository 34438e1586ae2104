// Package retry provides bounded, fixed-delay retry for callers of the backing-service managers.
//
// Managers never retry an operation themselves; a caller that wants to ride out a
// short outage wraps its call here with a small attempt count and a short delay.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"time"

	"github.com/storefront/storefront/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Delay is the fixed wait between attempts.
	Delay time.Duration `yaml:"delay" json:"delay"`

	// RetryableErrors lists codes retried even when the error is not flagged retryable.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns three attempts 250ms apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       250 * time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeNotConnected,
			errors.ErrCodeConnectionFailed,
			errors.ErrCodeConnectionTimeout,
			errors.ErrCodeOperationFailed,
			errors.ErrCodeOperationTimeout,
		},
	}
}

// Retryer runs a function until it succeeds, fails permanently or runs out of attempts.
type Retryer struct {
	config Config
}

// New creates a Retryer, applying defaults for zero values.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	return &Retryer{config: config}
}

// DoWithContext executes fn with retry and context support.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, r.config.Delay)
		}

		timer := time.NewTimer(r.config.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	var sfErr *errors.StorefrontError
	if !stderr.As(err, &sfErr) {
		return false
	}
	if sfErr.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if sfErr.Code == code {
			return true
		}
	}
	return false
}

// WithMaxAttempts returns a copy with a different attempt cap.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	c := r.config
	c.MaxAttempts = attempts
	return New(c)
}

// WithDelay returns a copy with a different delay.
func (r *Retryer) WithDelay(delay time.Duration) *Retryer {
	c := r.config
	c.Delay = delay
	return New(c)
}

// WithOnRetry returns a copy with a retry callback.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	c := r.config
	c.OnRetry = callback
	return New(c)
}
