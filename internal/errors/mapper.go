package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps transport errors to the parley error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper classifies errors by sentinel first and message content second
type DefaultErrorMapper struct{}

func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError wraps an unclassified error with the closest category.
// Errors that already carry a category are returned unchanged.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if m.Category(err) != "Unknown" {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)

	case strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"), strings.Contains(errStr, "invalid api key"):
		return fmt.Errorf("%s: %w", err.Error(), ErrConnection)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("%s: %w", err.Error(), ErrTransient)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("%s: %w", err.Error(), ErrTransient)

	case strings.Contains(errStr, "connection"), strings.Contains(errStr, "network"), strings.Contains(errStr, "unreachable"), strings.Contains(errStr, "eof"):
		return fmt.Errorf("%s: %w", err.Error(), ErrTransient)

	case strings.Contains(errStr, "invalid"), strings.Contains(errStr, "bad request"):
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidInput)

	default:
		return fmt.Errorf("%s: %w", err.Error(), ErrInternal)
	}
}

// IsRetryable reports whether a fresh Start may succeed
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the taxonomy name for an error
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrConnection):
		return "ErrConnection"
	case errors.Is(err, ErrAdapter):
		return "ErrAdapter"
	case errors.Is(err, ErrLocalAction):
		return "ErrLocalAction"
	case errors.Is(err, ErrCleanup):
		return "ErrCleanup"
	case errors.Is(err, ErrMalformedPayload):
		return "ErrMalformedPayload"
	case errors.Is(err, ErrNotActive):
		return "ErrNotActive"
	case errors.Is(err, ErrClosed):
		return "ErrClosed"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WithCategory wraps err so that it matches both itself and category.
func WithCategory(err error, category error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Connection wraps err as a connection failure
func Connection(err error) error {
	return WithCategory(err, ErrConnection)
}

// Adapter builds a mid-session adapter error from the reported message
func Adapter(message string) error {
	return fmt.Errorf("%s: %w", message, ErrAdapter)
}

// LocalAction wraps err as a rejected interrupt/send
func LocalAction(action string, err error) error {
	return fmt.Errorf("%s: %w", action, WithCategory(err, ErrLocalAction))
}

// Cleanup wraps err as a teardown failure
func Cleanup(err error) error {
	return WithCategory(err, ErrCleanup)
}

// Malformed wraps error as malformed payload
func Malformed(message string) error {
	return fmt.Errorf("%s: %w", message, ErrMalformedPayload)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// IsRetryable checks if an error is transient, indicating a new attempt can succeed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
