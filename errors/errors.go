package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrProtocol indicates that a coordinator agent produced output that does
	// not follow its output contract
	ErrProtocol = errors.New("protocol violation")

	// ErrUnavailable indicates a retryable failure of an external store or service
	ErrUnavailable = errors.New("service unavailable")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
