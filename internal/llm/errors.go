package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// FailureKind classifies why a cell could not be transformed. Callers get it
// for reporting only; batch processing branches on Outcome.Success alone.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureRateLimited    FailureKind = "rate_limited"
	FailureNotInitialized FailureKind = "not_initialized"
	FailureBackend        FailureKind = "backend_error"
	FailureConnection     FailureKind = "connection_error"
	FailureUnknown        FailureKind = "unknown"
)

var (
	ErrNotInitialized = errors.New("llm client not initialized")
	ErrRateLimited    = errors.New("llm rate limited")
	ErrUnauthorized   = errors.New("llm unauthorized")
	ErrUnavailable    = errors.New("llm unavailable")
	ErrEmptyResponse  = errors.New("llm returned no content")
)

// BackendError is a structured fault reported by a provider: a non-2xx
// status, an error object in the body, or a body that could not be decoded.
type BackendError struct {
	Backend Kind
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Backend, e.Status, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s error (status %d): %s", e.Backend, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Backend, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Backend, e.Message)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// Classify maps a backend error onto the failure taxonomy.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrRateLimited) {
		return FailureRateLimited
	}
	if errors.Is(err, ErrNotInitialized) {
		return FailureNotInitialized
	}
	var be *BackendError
	if errors.As(err, &be) {
		return FailureBackend
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureConnection
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return FailureConnection
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return FailureConnection
	}
	return FailureUnknown
}

// describe renders the human-readable message stored in a failed result.
func describe(kind FailureKind, err error) string {
	switch kind {
	case FailureRateLimited:
		return "Rate limit exceeded: " + err.Error()
	case FailureNotInitialized:
		return "API client not initialized"
	case FailureBackend:
		return "API Error: " + err.Error()
	case FailureConnection:
		return "Connection error: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
