package limiter

import (
	"testing"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/middleware"
)

func ok(*middleware.Context) error { return nil }

func TestRateLimiter(t *testing.T) {
	t.Run("allows burst then rejects", func(t *testing.T) {
		limiter := NewRateLimiter(0.001, 2, 0)
		for i := 0; i < 2; i++ {
			if err := limiter.Execute(&middleware.Context{}, ok); err != nil {
				t.Fatalf("request %d rejected: %v", i, err)
			}
		}
		if err := limiter.Execute(&middleware.Context{}, ok); !errors.Is(err, errors.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("bounds turns in flight", func(t *testing.T) {
		limiter := NewRateLimiter(0, 0, 1)
		var inner error
		err := limiter.Execute(&middleware.Context{}, func(c *middleware.Context) error {
			inner = limiter.Execute(c, ok)
			return nil
		})
		if err != nil {
			t.Fatalf("outer turn rejected: %v", err)
		}
		if !errors.Is(inner, errors.ErrUnavailable) {
			t.Errorf("expected nested turn to be rejected, got %v", inner)
		}
		if err := limiter.Execute(&middleware.Context{}, ok); err != nil {
			t.Errorf("slot not released: %v", err)
		}
	})

	t.Run("disabled limiter passes everything", func(t *testing.T) {
		limiter := NewRateLimiter(0, 0, 0)
		for i := 0; i < 100; i++ {
			if err := limiter.Execute(&middleware.Context{}, ok); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}
