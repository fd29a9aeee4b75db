package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RecoverableError is implemented by errors that know whether a retry can
// help
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// transientMessages are substrings of error text that indicate a search or
// completion backend hiccup rather than a bad request
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"rate limit",
	"service unavailable",
	"bad gateway",
}

// IsRecoverable reports whether err is worth retrying. Explicit
// classification wins; otherwise timeouts, network timeouts and known
// transient messages are recoverable and cancellation never is.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var classified RecoverableError
	if errors.As(err, &classified) {
		return classified.IsRecoverable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// StatusError is returned by HTTP collaborators for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRecoverable reports whether the status is worth retrying
func (e *StatusError) IsRecoverable() bool {
	return ShouldRetry(e.StatusCode)
}

// ShouldRetry reports whether a response status is transient
func ShouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classifiedError pins the retry decision for a wrapped error
type classifiedError struct {
	err         error
	recoverable bool
}

func (e *classifiedError) Error() string       { return e.err.Error() }
func (e *classifiedError) Unwrap() error       { return e.err }
func (e *classifiedError) IsRecoverable() bool { return e.recoverable }

// NewRecoverableError marks err as retryable
func NewRecoverableError(err error) error {
	return &classifiedError{err: err, recoverable: true}
}

// NewNonRecoverableError marks err as final
func NewNonRecoverableError(err error) error {
	return &classifiedError{err: err}
}
