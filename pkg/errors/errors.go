// Package errors provides the structured error type shared by the storefront backing-service managers.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/storefront/pkg/sanitize"
)

// ErrorCode identifies a failure condition.
type ErrorCode string

// Error codes grouped by category.
const (
	// Configuration errors are fatal and never retried.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Connection errors are retried by the supervisor up to the attempt cap.
	ErrCodeConnectionFailed     ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout    ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeRetryExhausted       ErrorCode = "RETRY_EXHAUSTED"

	// Health errors fold into the connection recovery path.
	ErrCodeHealthCheckFailed ErrorCode = "HEALTH_CHECK_FAILED"

	// State errors.
	ErrCodeNotConnected  ErrorCode = "NOT_CONNECTED"
	ErrCodeManagerClosed ErrorCode = "MANAGER_CLOSED"

	// Operation errors are surfaced to the caller and never retried by a manager.
	ErrCodeOperationFailed    ErrorCode = "OPERATION_FAILED"
	ErrCodeOperationTimeout   ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeObjectNotFound     ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryHealth        ErrorCategory = "health"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:        CategoryConfiguration,
	ErrCodeMissingConfig:        CategoryConfiguration,
	ErrCodeConnectionFailed:     CategoryConnection,
	ErrCodeConnectionTimeout:    CategoryConnection,
	ErrCodeAuthenticationFailed: CategoryConnection,
	ErrCodeRetryExhausted:       CategoryConnection,
	ErrCodeHealthCheckFailed:    CategoryHealth,
	ErrCodeNotConnected:         CategoryState,
	ErrCodeManagerClosed:        CategoryState,
	ErrCodeOperationFailed:      CategoryOperation,
	ErrCodeOperationTimeout:     CategoryOperation,
	ErrCodeObjectNotFound:       CategoryOperation,
	ErrCodeSubscriptionFailed:   CategoryOperation,
}

// StorefrontError is a structured error with context and metadata.
// Its rendered forms never contain connection-string credentials.
type StorefrontError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Context  map[string]string      `json:"context,omitempty"`

	// Cause is always wrapped by sanitize.Error.
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *StorefrontError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return sanitize.String(b.String())
}

// Unwrap returns the underlying cause.
func (e *StorefrontError) Unwrap() error {
	return e.Cause
}

// Is matches another StorefrontError by code.
func (e *StorefrontError) Is(target error) bool {
	if other, ok := target.(*StorefrontError); ok {
		return e.Code == other.Code
	}
	return false
}

// JSON returns the error as a sanitized JSON document including the cause text.
func (e *StorefrontError) JSON() string {
	payload := struct {
		*StorefrontError
		Cause string `json:"cause,omitempty"`
	}{StorefrontError: e}
	if e.Cause != nil {
		payload.Cause = e.Cause.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return sanitize.String(string(data))
}

// NewError creates an error with defaults derived from the code.
func NewError(code ErrorCode, message string) *StorefrontError {
	return &StorefrontError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   sanitize.String(message),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory returns the category for code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether a collaborator may retry an error with this code.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNotConnected,
		ErrCodeOperationFailed, ErrCodeOperationTimeout:
		return true
	}
	return false
}

// WithContext adds contextual information.
func (e *StorefrontError) WithContext(key, value string) *StorefrontError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = sanitize.String(value)
	return e
}

// WithDetail adds detailed information.
func (e *StorefrontError) WithDetail(key string, value interface{}) *StorefrontError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	if s, ok := value.(string); ok {
		value = sanitize.String(s)
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *StorefrontError) WithComponent(component string) *StorefrontError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *StorefrontError) WithOperation(operation string) *StorefrontError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *StorefrontError) WithCause(cause error) *StorefrontError {
	e.Cause = sanitize.Error(cause)
	return e
}

// CodeOf returns the code of the first StorefrontError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var se *StorefrontError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err's chain contains a StorefrontError with code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &StorefrontError{Code: code})
}

// NotConnected reports an operation attempted while the manager is not connected.
func NotConnected(component, state string) *StorefrontError {
	return NewError(ErrCodeNotConnected, "not connected").
		WithComponent(component).
		WithContext("state", state)
}

// ManagerClosed reports a request made after explicit shutdown.
func ManagerClosed(component string) *StorefrontError {
	return NewError(ErrCodeManagerClosed, "manager closed").WithComponent(component)
}
