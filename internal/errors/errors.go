package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrTransient indicates a temporary error that may succeed when re-attempted
	ErrTransient = errors.New("transient error")

	// ErrPermanent indicates a permanent error that will not succeed when re-attempted
	ErrPermanent = errors.New("permanent error")

	// ErrNetwork indicates the request never produced an HTTP response
	ErrNetwork = errors.New("network failure")

	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates authentication failure (session expired)
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates authorization failure
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput indicates the server rejected the request payload
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates a request timed out or was cancelled by the timer
	ErrTimeout = errors.New("timeout")

	// ErrRateLimit indicates rate limiting
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrServerFault indicates a 5xx response
	ErrServerFault = errors.New("server fault")

	// ErrSessionExpired is returned when decoding a response that was answered
	// by an automatic logout
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrUnauthorized)
)

// TransientError wraps an error to mark it as transient
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error: %v", e.Cause)
	}
	return "transient error"
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransient creates a new transient error
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// NewTransientf creates a new transient error with formatting
func NewTransientf(format string, args ...interface{}) error {
	return &TransientError{Cause: fmt.Errorf(format, args...)}
}

// PermanentError wraps an error to mark it as permanent
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent error: %v", e.Cause)
	}
	return "permanent error"
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// NewPermanent creates a new permanent error
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// NewPermanentf creates a new permanent error with formatting
func NewPermanentf(format string, args ...interface{}) error {
	return &PermanentError{Cause: fmt.Errorf(format, args...)}
}

// IsTransient reports whether re-issuing the failed operation could succeed.
// Nothing in cdpilot retries automatically; the CLI uses this to suggest
// re-running a command.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	var serverErrs *ServerErrors
	if errors.As(err, &serverErrs) {
		switch serverErrs.Code {
		case 0:
			return !IsAbortError(serverErrs)
		case 408, 429, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidInput) {
		return false
	}

	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimit) {
		return true
	}

	return false
}

// IsPermanent checks if an error is explicitly marked permanent
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
