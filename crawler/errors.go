package crawler

import (
	"errors"
	"fmt"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the source throttled the request (HTTP 429).
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response from the source.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrClient indicates a non-retryable 4xx response.
type ErrClient struct {
	Err error
}

func (e ErrClient) Error() string {
	return fmt.Errorf("client: %w", e.Err).Error()
}

func (e ErrClient) Unwrap() error {
	return e.Err
}

// ErrMalformedBody indicates transport succeeded but the payload was
// unusable. Fatal for the request; never retried.
type ErrMalformedBody struct {
	Err error
}

func (e ErrMalformedBody) Error() string {
	return fmt.Errorf("malformed_body: %w", e.Err).Error()
}

func (e ErrMalformedBody) Unwrap() error {
	return e.Err
}

// attemptsError annotates a terminal fetch failure with the number of
// attempts spent before giving up. Wrapped inside the fetcher so callers
// can report a truthful attempt count without tracking retries themselves.
type attemptsError struct {
	attempts int
	err      error
}

func (e attemptsError) Error() string {
	return e.err.Error()
}

func (e attemptsError) Unwrap() error {
	return e.err
}

// fetchAttempts reports how many attempts the failed fetch behind err
// consumed. An error carrying no count reports a single attempt.
func fetchAttempts(err error) int {
	var ae attemptsError
	if errors.As(err, &ae) {
		return ae.attempts
	}
	return 1
}

// FetchError records the terminal failure of one listing's fetch after all
// retries were spent. It never aborts sibling requests.
type FetchError struct {
	ListingID string
	Attempts  int
	LastCause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch listing %s failed after %d attempt(s): %v", e.ListingID, e.Attempts, e.LastCause)
}

func (e *FetchError) Unwrap() error {
	return e.LastCause
}

// PaginationError signals an aborted page walk. IDs collected before the
// abort are carried so the caller can proceed with a partial set.
type PaginationError struct {
	Page      int
	Collected int
	Cause     error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("pagination aborted at page %d after %d id(s): %v", e.Page, e.Collected, e.Cause)
}

func (e *PaginationError) Unwrap() error {
	return e.Cause
}

// retryable reports whether a classified error is worth another attempt.
func retryable(err error) bool {
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return true
	}
	var server ErrServer
	if errors.As(err, &server) {
		return true
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	return errors.As(err, &conn)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var client ErrClient
	if errors.As(err, &client) {
		return "client"
	}
	var malformed ErrMalformedBody
	if errors.As(err, &malformed) {
		return "malformed_body"
	}
	return "other"
}
