// Package errx provides small helpers for wrapping sentinel errors with
// dynamic detail while keeping errors.Is checks working.
package errx

import "fmt"

// Wrap attaches a cause to a sentinel error.
// errors.Is(result, sentinel) and errors.Is(result, cause) both hold.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With appends formatted detail to a sentinel error.
// errors.Is(result, sentinel) holds.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w%s", sentinel, fmt.Sprintf(format, args...))
}
