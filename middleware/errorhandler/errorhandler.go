package errorhandler

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/middleware"
)

// ErrorHandlerFunc handles errors
type ErrorHandlerFunc func(*middleware.Context, error) error

// ErrorHandler handles errors in the middleware chain
type ErrorHandler struct {
	handler ErrorHandlerFunc
}

// NewErrorHandler creates an error handling middleware
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute handles errors from downstream middlewares
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil && m.handler != nil {
		return m.handler(ctx, err)
	}
	return err
}

var known = []error{
	errors.ErrInvalidInput,
	errors.ErrProtocol,
	errors.ErrUnavailable,
	errors.ErrNotFound,
	errors.ErrAlreadyExists,
	errors.ErrInternal,
	context.DeadlineExceeded,
	context.Canceled,
}

// Classify tags errors outside the router's taxonomy as errors.ErrInternal so
// callers can map every failure to a stable category.
func Classify(ctx *middleware.Context, err error) error {
	for _, target := range known {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("session %s: %w: %w", ctx.SessionID, errors.ErrInternal, err)
}
