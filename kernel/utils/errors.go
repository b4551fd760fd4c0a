package utils

import (
	"errors"
	"fmt"
)

// ErrTimeout marks any error produced by TimeoutError.
var ErrTimeout = errors.New("operation timed out")

// NewError creates a new error with a message
func NewError(msg string) error {
	return errors.New(msg)
}

// WrapError wraps an error with additional context
func WrapError(err error, msg string) error {
	if err == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// TimeoutError creates a timeout error for the named operation.
func TimeoutError(operation string) error {
	return fmt.Errorf("%s: %w", operation, ErrTimeout)
}

// IsTimeout reports whether err came from TimeoutError.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
