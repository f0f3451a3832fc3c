package enricher

import (
	"github.com/google/uuid"

	"github.com/sweetpotato0/ai-router/middleware"
)

// TurnIDKey is the metadata key holding the turn identifier.
const TurnIDKey = "turn_id"

// EnricherFunc enriches the context
type EnricherFunc func(*middleware.Context) error

// ContextEnricher adds additional data to the middleware context
type ContextEnricher struct {
	enricher EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enricher EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enricher: enricher}
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute enriches the context
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.enricher != nil {
		if err := m.enricher(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// TurnID stamps each turn with a random identifier unless one is present.
func TurnID(ctx *middleware.Context) error {
	if ctx.Metadata == nil {
		ctx.Metadata = make(map[string]any)
	}
	if _, ok := ctx.Metadata[TurnIDKey]; !ok {
		ctx.Metadata[TurnIDKey] = uuid.NewString()
	}
	return nil
}
