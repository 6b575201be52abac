package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorClass sorts provider failures into how the caller should react.
type ErrorClass int

const (
	// ClassTransient covers network failures, timeouts, 429s and 5xx
	// responses. The session is handed to the fallback provider.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers auth and validation failures. Retrying or
	// falling back would fail the same way.
	ClassPermanent
	// ClassEmpty marks a provider that answered with no usable content on
	// the opening turn. Treated like transient for fallback purposes.
	ClassEmpty
)

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Status   int
	Class    ErrorClass
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s provider: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient builds a fallback-eligible provider error.
func Transient(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Class: ClassTransient, Err: err}
}

// Permanent builds a non-recoverable provider error.
func Permanent(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Class: ClassPermanent, Err: err}
}

// EmptyResponse marks an opening turn that produced no content.
func EmptyResponse(provider string) *ProviderError {
	return &ProviderError{Provider: provider, Class: ClassEmpty, Err: errors.New("empty response on first turn")}
}

// classifyStatus maps an HTTP status onto an error class. 408/425/429 and
// every 5xx are worth handing to another provider; the rest are not.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 408 || status == 425 || status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// FallbackEligible reports whether the session should be retried on the
// fallback provider. Cancellation is never eligible: an aborted session must
// stop, not migrate.
func FallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient || pe.Class == ClassEmpty
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
