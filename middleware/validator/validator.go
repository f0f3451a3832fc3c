package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/middleware"
)

// ValidatorFunc validates input
type ValidatorFunc func(string) error

// InputValidator validates the user message before the turn runs
type InputValidator struct {
	validators []ValidatorFunc
}

// NewInputValidator creates an input validation middleware
func NewInputValidator(validators ...ValidatorFunc) *InputValidator {
	return &InputValidator{validators: validators}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, validate := range m.validators {
		if validate == nil {
			continue
		}
		if err := validate(ctx.Input); err != nil {
			return err
		}
	}
	return next(ctx)
}

// NonEmpty rejects blank messages.
func NonEmpty(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: message is required", errors.ErrInvalidInput)
	}
	return nil
}

// MaxLength rejects messages longer than n characters. n <= 0 disables the check.
func MaxLength(n int) ValidatorFunc {
	return func(input string) error {
		if n > 0 && utf8.RuneCountInString(input) > n {
			return fmt.Errorf("%w: message exceeds %d characters", errors.ErrInvalidInput, n)
		}
		return nil
	}
}
