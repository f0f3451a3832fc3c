// Package router runs a user turn through the routing coordinator, the
// specialists it names and the synthesis coordinator, and records the turn.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/conversation"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/eventlog"
	"github.com/sweetpotato0/ai-router/middleware"
	"github.com/sweetpotato0/ai-router/pkg/logging"
	"github.com/sweetpotato0/ai-router/pkg/metrics"
	"github.com/sweetpotato0/ai-router/pkg/telemetry"
	"github.com/sweetpotato0/ai-router/session"
)

// Router owns the three stages of a turn. At most one turn or session end
// runs per session at a time.
type Router struct {
	capability   agent.Capability
	sessions     *session.Manager
	transcripts  *conversation.Log
	events       *eventlog.Log
	locks        *KeyedMutex
	chain        *middleware.MiddlewareChain
	agentTimeout time.Duration
	lenient      bool
	logger       *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithEventLog records routing decisions and replies in log.
func WithEventLog(log *eventlog.Log) Option {
	return func(r *Router) {
		r.events = log
	}
}

// WithAgentTimeout bounds each coordinator and specialist invocation.
func WithAgentTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.agentTimeout = d
	}
}

// WithLenientRouting makes malformed routing output skip delegation instead
// of failing the turn.
func WithLenientRouting(lenient bool) Option {
	return func(r *Router) {
		r.lenient = lenient
	}
}

// WithMiddleware wraps every turn in chain.
func WithMiddleware(chain *middleware.MiddlewareChain) Option {
	return func(r *Router) {
		r.chain = chain
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Router.
func New(capability agent.Capability, sessions *session.Manager, transcripts *conversation.Log, opts ...Option) *Router {
	r := &Router{
		capability:  capability,
		sessions:    sessions,
		transcripts: transcripts,
		locks:       NewKeyedMutex(),
		logger:      logging.WithComponent("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TurnResult is the outcome of a completed turn. PersistErr is set when the
// answer was produced but the transcript could not be written.
type TurnResult struct {
	SessionID  string
	Answer     string
	Plan       Plan
	Responses  Responses
	PersistErr error
}

// HandleTurn runs one user message through routing, delegation and synthesis
// and appends the turn to the session's transcript. The configured middleware
// chain wraps the whole turn.
func (r *Router) HandleTurn(ctx context.Context, sessionID, message string) (result *TurnResult, err error) {
	ctx, span := telemetry.Start(ctx, "router.turn", attribute.String("session.id", sessionID))
	defer func() {
		telemetry.End(span, err)
		metrics.TurnsTotal.WithLabelValues(outcome(result, err)).Inc()
	}()

	mctx := middleware.NewContext(ctx, sessionID, message)
	err = r.chain.Execute(mctx, func(mc *middleware.Context) error {
		res, err := r.turn(mc.Context(), mc.SessionID, mc.Input)
		if err != nil {
			return err
		}
		mc.Answer, mc.PersistErr = res.Answer, res.PersistErr
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Router) turn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", errors.ErrInvalidInput)
	}

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result, err := r.run(ctx, sessionID, message)
	if errors.Is(err, errors.ErrNotFound) {
		// The stored handles no longer exist in the runtime, e.g. after a
		// restart over an in-memory runtime or an expired runtime key.
		if r.logger != nil {
			r.logger.Warn("stale session handles, recreating session", "session_id", sessionID, "error", err)
		}
		if rerr := r.sessions.Reset(ctx, sessionID); rerr != nil {
			return nil, fmt.Errorf("session %s: reset: %w: %w", sessionID, errors.ErrUnavailable, rerr)
		}
		result, err = r.run(ctx, sessionID, message)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w: %w", sessionID, errors.ErrUnavailable, err)
		}
	}
	return result, err
}

func (r *Router) run(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	record, err := r.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := r.Route(ctx, record, message)
	if err != nil {
		return nil, err
	}
	responses, err := r.Delegate(ctx, record, plan)
	if err != nil {
		return nil, err
	}
	answer, err := r.Synthesize(ctx, record, message, responses)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{SessionID: sessionID, Answer: answer, Plan: plan, Responses: responses}
	result.PersistErr = r.record(ctx, sessionID, message, responses, answer)
	return result, nil
}

// EndSession tears the session down once any in-flight turn has finished.
func (r *Router) EndSession(ctx context.Context, sessionID string) (bool, error) {
	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer unlock()
	return r.sessions.End(ctx, sessionID)
}

// Route asks the routing coordinator for a delegation plan.
func (r *Router) Route(ctx context.Context, record *session.Record, message string) (plan Plan, err error) {
	ctx, span := telemetry.Start(ctx, "router.route", attribute.String("session.id", record.ID))
	defer func() { telemetry.End(span, err) }()
	defer metrics.ObserveStage("route", time.Now())

	output, err := r.ask(ctx, record.ThreadID, record.RoutingAgentID, message)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	r.events.Record(record.ID, eventlog.RoutingDecision, output)

	plan, err = ParsePlan(output)
	if err != nil {
		if !r.lenient {
			return nil, fmt.Errorf("route: %w", err)
		}
		if r.logger != nil {
			r.logger.Warn("routing output rejected; continuing without delegation",
				"session_id", record.ID, "error", err)
		}
		return Plan{}, nil
	}
	if r.logger != nil {
		r.logger.Debug("routing decision", "session_id", record.ID, "specialists", plan.Names())
	}
	return plan, nil
}

// Delegate invokes each known specialist of the plan in order. Unknown names
// are skipped.
func (r *Router) Delegate(ctx context.Context, record *session.Record, plan Plan) (responses Responses, err error) {
	responses = Responses{}
	if len(plan) == 0 {
		return responses, nil
	}

	ctx, span := telemetry.Start(ctx, "router.delegate",
		attribute.String("session.id", record.ID),
		attribute.StringSlice("plan", plan.Names()))
	defer func() { telemetry.End(span, err) }()
	defer metrics.ObserveStage("delegate", time.Now())

	for _, entry := range plan {
		if !session.IsSpecialist(entry.Name) {
			if r.logger != nil {
				r.logger.Warn("routing named an unknown specialist; skipping", "session_id", record.ID, "specialist", entry.Name)
			}
			r.events.Record(record.ID, eventlog.UnknownSpecialist, fmt.Sprintf("Skipped %s: %s", entry.Name, entry.Query))
			continue
		}

		agentID, err := r.sessions.EnsureSpecialist(ctx, record, entry.Name)
		if err != nil {
			metrics.SpecialistCalls.WithLabelValues(entry.Name, "error").Inc()
			return nil, fmt.Errorf("delegate %s: %w", entry.Name, err)
		}
		reply, err := r.ask(ctx, record.ThreadID, agentID, entry.Query)
		if err != nil {
			metrics.SpecialistCalls.WithLabelValues(entry.Name, "error").Inc()
			return nil, fmt.Errorf("delegate %s: %w", entry.Name, err)
		}
		metrics.SpecialistCalls.WithLabelValues(entry.Name, "ok").Inc()

		responses = append(responses, Response{Name: entry.Name, Reply: reply})
		r.events.RecordText(record.ID, eventlog.SpecialistResponse, fmt.Sprintf("%s: %s", entry.Name, reply))
	}
	return responses, nil
}

// Synthesize asks the synthesis coordinator for the final answer and returns
// it verbatim.
func (r *Router) Synthesize(ctx context.Context, record *session.Record, message string, responses Responses) (answer string, err error) {
	ctx, span := telemetry.Start(ctx, "router.synthesize",
		attribute.String("session.id", record.ID),
		attribute.Int("responses", len(responses)))
	defer func() { telemetry.End(span, err) }()
	defer metrics.ObserveStage("synthesize", time.Now())

	payload, err := SynthesisPayload(message, responses)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	answer, err = r.ask(ctx, record.ThreadID, record.SynthesisAgentID, payload)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	r.events.RecordText(record.ID, eventlog.SynthesisResponse, answer)
	return answer, nil
}

func (r *Router) record(ctx context.Context, sessionID, message string, responses Responses, answer string) error {
	entries := make([]conversation.Entry, 0, len(responses)+2)
	entries = append(entries, conversation.Entry{Role: conversation.RoleUser, Message: message})
	for _, resp := range responses {
		entries = append(entries, conversation.Entry{Role: conversation.AgentRole(resp.Name), Message: resp.Reply})
	}
	entries = append(entries, conversation.Entry{Role: conversation.RoleSynthesis, Message: answer})

	mirror := make([]eventlog.Entry, 0, len(entries))
	for _, e := range entries {
		mirror = append(mirror, eventlog.Entry{Role: e.Role, Message: e.Message})
	}
	r.events.AppendHistory(mirror...)

	if err := r.transcripts.Append(ctx, sessionID, entries...); err != nil {
		if r.logger != nil {
			r.logger.Error("transcript append failed; answer returned without persistence",
				"session_id", sessionID, "error", err)
		}
		r.events.Record(sessionID, eventlog.PersistenceFailed, err.Error())
		return err
	}
	return nil
}

func (r *Router) ask(ctx context.Context, threadID, agentID, content string) (string, error) {
	if r.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.agentTimeout)
		defer cancel()
	}
	return agent.Ask(ctx, r.capability, threadID, agentID, content)
}

func outcome(result *TurnResult, err error) string {
	switch {
	case err == nil && result != nil && result.PersistErr != nil:
		return metrics.OutcomePersistFailure
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, errors.ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, errors.ErrProtocol):
		return metrics.OutcomeProtocol
	case errors.Is(err, errors.ErrUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
