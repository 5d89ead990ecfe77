// Package errors provides the error taxonomy for scrape requests and capture
// analysis.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Malformed is a single capture record that cannot be processed.
	Malformed
	// Shape is a capture missing its expected top-level container. It is
	// absorbed when the capture is decoded and reported only in logs.
	Shape
	// Upstream is a browser failure (launch, navigation, crash).
	Upstream
	// Timeout represents timeout errors.
	Timeout
	// Network represents network-related errors (DNS, connection).
	Network
	// Validation is a bad request from the caller.
	Validation
	// RateLimit means the request was rejected by admission control.
	RateLimit
	// Storage represents capture archive failures.
	Storage
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Malformed:
		return "malformed_record"
	case Shape:
		return "shape"
	case Upstream:
		return "upstream"
	case Timeout:
		return "timeout"
	case Network:
		return "network"
	case Validation:
		return "validation"
	case RateLimit:
		return "rate_limit"
	case Storage:
		return "storage"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout:
		return true
	default:
		return false
	}
}

// ScrapeError represents a categorized error.
type ScrapeError struct {
	Type      ErrorType
	URL       string
	Operation string
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *ScrapeError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *ScrapeError) Is(target error) bool {
	t, ok := target.(*ScrapeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new ScrapeError.
func New(errType ErrorType, url, operation, message string, cause error) *ScrapeError {
	return &ScrapeError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewMalformedError creates an error for a capture record that cannot be parsed.
func NewMalformedError(url, operation string, cause error) *ScrapeError {
	return New(Malformed, url, operation, "malformed record", cause)
}

// NewUpstreamError creates a browser failure error.
func NewUpstreamError(url, operation string, cause error) *ScrapeError {
	return New(Upstream, url, operation, "browser operation failed", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *ScrapeError {
	return New(Timeout, url, operation, "operation timed out", cause)
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *ScrapeError {
	return New(Network, url, operation, "network failure", cause)
}

// NewValidationError creates an error for invalid caller input.
func NewValidationError(url, message string) *ScrapeError {
	return New(Validation, url, "validate", message, nil)
}

// NewRateLimitError creates an admission rejection error.
func NewRateLimitError(url string) *ScrapeError {
	return New(RateLimit, url, "admit", "too many requests", nil)
}

// NewStorageError creates a capture archive error.
func NewStorageError(operation string, cause error) *ScrapeError {
	return New(Storage, "", operation, "archive operation failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *ScrapeError {
	return New(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *ScrapeError {
	if err == nil {
		return nil
	}

	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) {
		return scrapeErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "scrape")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "scrape", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "scrape", err)
	}

	return New(Unknown, url, "scrape", err.Error(), err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related. Chrome reports
// navigation failures as net::ERR_* strings.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "net::ERR_") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) {
		return scrapeErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var scrapeErr *ScrapeError
	if errors.As(err, &scrapeErr) {
		return scrapeErr.Type
	}
	return Unknown
}

// IsType reports whether err carries the given type.
func IsType(err error, t ErrorType) bool {
	return err != nil && GetErrorType(err) == t
}
