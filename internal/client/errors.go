package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dcarapic/hotmeals-sub000/internal/patterns"
)

// Category classifies a failed API call
type Category string

// Category constants
const (
	CategoryAborted      Category = "aborted"
	CategoryValidation   Category = "validation"
	CategoryUnauthorized Category = "unauthorized"
	CategoryNetwork      Category = "network"
	CategoryServer       Category = "server"
)

// ErrMalformedResponse is returned when a successful response body cannot be decoded
var ErrMalformedResponse = errors.New("malformed response body")

// Error is a categorized API failure
type Error struct {
	Category   Category
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call may succeed
func (e *Error) Retryable() bool {
	return e.Category == CategoryNetwork || e.Category == CategoryServer
}

// CategoryOf returns the category of err, if it carries one
func CategoryOf(err error) (Category, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Category, true
	}
	return "", false
}

// IsAborted reports whether err represents a locally canceled call
func IsAborted(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryAborted
}

// Aborted returns the error used for calls canceled by their caller
func Aborted(err error) *Error {
	return &Error{Category: CategoryAborted, Message: "request canceled", Err: err}
}

// NewValidationError returns a validation error raised before any network call
func NewValidationError(message string) *Error {
	return &Error{Category: CategoryValidation, Message: message}
}

func categoryForStatus(status int) Category {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return CategoryValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return CategoryUnauthorized
	default:
		return CategoryServer
	}
}

// classify maps whatever the transport stack returned onto the error taxonomy.
// ctx is the caller's context, not the per-request one.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Aborted(err)
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, ErrMalformedResponse) {
		return err
	}
	msg := "network failure"
	switch {
	case patterns.IsBreakerRejection(err):
		msg = "service unavailable"
	case errors.Is(err, patterns.ErrBulkheadFull):
		msg = "too many concurrent requests"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out"
	}
	return &Error{Category: CategoryNetwork, Message: msg, Err: err}
}

// countsAsSuccess tells the circuit breaker which failures are not the
// server's fault.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Category == CategoryValidation || apiErr.Category == CategoryUnauthorized
	}
	return false
}
