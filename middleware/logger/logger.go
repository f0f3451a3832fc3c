package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/ai-router/middleware"
	"github.com/sweetpotato0/ai-router/pkg/logging"
)

// TurnLogger logs each turn when it starts and when it ends
type TurnLogger struct {
	logger *slog.Logger
}

// NewTurnLogger creates a turn logging middleware. A nil logger uses the
// process logger.
func NewTurnLogger(logger *slog.Logger) *TurnLogger {
	if logger == nil {
		logger = logging.WithComponent("turn")
	}
	return &TurnLogger{logger: logger}
}

// Name returns the middleware name
func (m *TurnLogger) Name() string {
	return "TurnLogger"
}

// Execute logs the request and its outcome
func (m *TurnLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := time.Now()
	attrs := []any{"session_id", ctx.SessionID}
	if id, ok := ctx.Metadata["turn_id"].(string); ok {
		attrs = append(attrs, "turn_id", id)
	}
	m.logger.Info("turn started", append(attrs, "input_chars", len([]rune(ctx.Input)))...)

	err := next(ctx)

	attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds())
	switch {
	case err != nil:
		m.logger.Error("turn failed", append(attrs, "error", err)...)
	case ctx.PersistErr != nil:
		m.logger.Warn("turn completed without persistence", append(attrs, "error", ctx.PersistErr)...)
	default:
		m.logger.Info("turn completed", append(attrs, "answer_chars", len([]rune(ctx.Answer)))...)
	}
	return err
}
