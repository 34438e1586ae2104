package recovery

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/storefront/storefront/pkg/errors"
)

// ErrorClass selects the settle delay applied to a lifecycle error.
type ErrorClass string

const (
	// ClassAuth covers rejected credentials; AuthSettleDelay applies.
	ClassAuth ErrorClass = "auth"
	// ClassTimeout covers dials and probes that ran out of time.
	ClassTimeout ErrorClass = "timeout"
	// ClassTopology covers failovers and elections; TopologySettleDelay applies.
	ClassTopology ErrorClass = "topology"
	// ClassUnknown is everything else.
	ClassUnknown ErrorClass = "unknown"
)

// Classifier maps a driver error to an ErrorClass.
type Classifier func(err error) ErrorClass

// DefaultClassifier recognizes errors that carry no driver-specific information.
func DefaultClassifier(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeAuthenticationFailed:
		return ClassAuth
	case errors.ErrCodeConnectionTimeout, errors.ErrCodeOperationTimeout:
		return ClassTimeout
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication failed"), strings.Contains(msg, "unauthorized"):
		return ClassAuth
	case strings.Contains(msg, "server selection"):
		return ClassTopology
	}
	return ClassUnknown
}

// Chain returns a classifier that tries each classifier in order and reports the first known class.
func Chain(classifiers ...Classifier) Classifier {
	return func(err error) ErrorClass {
		for _, c := range classifiers {
			if c == nil {
				continue
			}
			if class := c(err); class != ClassUnknown {
				return class
			}
		}
		return ClassUnknown
	}
}

// codeFor maps a class to the error code reported for a failed dial.
func codeFor(class ErrorClass) errors.ErrorCode {
	switch class {
	case ClassAuth:
		return errors.ErrCodeAuthenticationFailed
	case ClassTimeout:
		return errors.ErrCodeConnectionTimeout
	default:
		return errors.ErrCodeConnectionFailed
	}
}
