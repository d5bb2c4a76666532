// Package errors defines the error taxonomy shared by the stores, services
// and transports. Every error that crosses the service boundary wraps one of
// the sentinels below so callers can branch with errors.Is.
package errors

import (
	std "errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = fmt.Errorf("not found")
	ErrValidation             = fmt.Errorf("validation failed")
	ErrConcurrentModification = fmt.Errorf("concurrent modification")
	ErrDataIntegrity          = fmt.Errorf("data integrity violation")
	ErrResourceExhausted      = fmt.Errorf("resource exhausted")
)

// Kind is the machine readable classification of an error.
type Kind string

const (
	KindNotFound               Kind = "NOT_FOUND"
	KindValidation             Kind = "VALIDATION_FAILED"
	KindInvalidTransition      Kind = "INVALID_TRANSITION"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
	KindDataIntegrity          Kind = "DATA_INTEGRITY_VIOLATION"
	KindResourceExhausted      Kind = "RESOURCE_EXHAUSTED"
	KindInternal               Kind = "INTERNAL"
)

// ValidationError carries every failed check of a validation pass.
type ValidationError struct {
	Messages []string
}

// Invalid builds a ValidationError from one or more messages.
func Invalid(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

// Invalidf builds a single-message ValidationError.
func Invalidf(format string, args ...any) *ValidationError {
	return Invalid(fmt.Sprintf(format, args...))
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", ErrValidation, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrValidation
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var transition *TransitionError
	switch {
	case err == nil:
		return ""
	case std.As(err, &transition):
		return KindInvalidTransition
	case std.Is(err, ErrValidation):
		return KindValidation
	case std.Is(err, ErrNotFound):
		return KindNotFound
	case std.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	case std.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	case std.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrentModification, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
