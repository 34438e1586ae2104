package recovery

import (
	"time"

	"github.com/storefront/storefront/pkg/errors"
	"github.com/storefront/storefront/pkg/sanitize"
)

// ErrorSnapshot is a sanitized record of a failure.
type ErrorSnapshot struct {
	Message   string           `json:"message"`
	Code      errors.ErrorCode `json:"code,omitempty"`
	Class     ErrorClass       `json:"class,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func snapshotError(err error, class ErrorClass, now time.Time) *ErrorSnapshot {
	if err == nil {
		return nil
	}
	return &ErrorSnapshot{
		Message:   sanitize.Message(err),
		Code:      errors.CodeOf(err),
		Class:     class,
		Timestamp: now,
	}
}

// RetryContext tracks one retry cycle. A supervisor owns exactly one and resets it in place.
type RetryContext struct {
	CurrentAttempt int            `json:"current_attempt"`
	MaxAttempts    int            `json:"max_attempts"`
	BaseDelay      time.Duration  `json:"base_delay"`
	MaxDelay       time.Duration  `json:"max_delay"`
	LastError      *ErrorSnapshot `json:"last_error,omitempty"`

	// StartedAt is set by the first attempt of a cycle.
	StartedAt time.Time `json:"started_at,omitempty"`
}

// begin marks the start of a cycle if none is running.
func (r *RetryContext) begin(now time.Time) {
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
}

// reset restarts the cycle. The last error is kept until a dial succeeds.
func (r *RetryContext) reset() {
	r.CurrentAttempt = 0
	r.StartedAt = time.Time{}
}

func (r *RetryContext) succeed() {
	r.reset()
	r.LastError = nil
}

func (r *RetryContext) exhausted() bool {
	return r.CurrentAttempt >= r.MaxAttempts
}

// Elapsed returns the time since the cycle began.
func (r *RetryContext) Elapsed(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}
