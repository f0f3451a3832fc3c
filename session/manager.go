package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/eventlog"
	"github.com/sweetpotato0/ai-router/pkg/logging"
)

// SpecialistBuilder supplies the fixed agent definitions of a session.
type SpecialistBuilder interface {
	// Coordinators returns the routing and synthesis agent definitions.
	Coordinators() (routing, synthesis agent.Definition)
	// Specialist returns the definition of the named specialist, binding its
	// tools against the registered connections.
	Specialist(name string, conns []agent.Connection) (agent.Definition, error)
}

// Manager creates, extends and tears down sessions. Callers must not run two
// operations on the same session concurrently, except End.
type Manager struct {
	capability   agent.Capability
	store        Store
	builder      SpecialistBuilder
	events       *eventlog.Log
	agentTimeout time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithEvents records lifecycle events in log.
func WithEvents(log *eventlog.Log) Option {
	return func(m *Manager) {
		m.events = log
	}
}

// WithTimeouts bounds each agent capability call and each store call.
// Zero leaves the caller's deadline in charge.
func WithTimeouts(agentTimeout, storeTimeout time.Duration) Option {
	return func(m *Manager) {
		m.agentTimeout = agentTimeout
		m.storeTimeout = storeTimeout
	}
}

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager.
//
// Example:
//
//	mgr := session.NewManager(rt, inmemory.NewInMemoryStore(), router.NewSpecialists(cfg))
func NewManager(capability agent.Capability, store Store, builder SpecialistBuilder, opts ...Option) *Manager {
	m := &Manager{
		capability: capability,
		store:      store,
		builder:    builder,
		logger:     logging.WithComponent("session_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the stored session, or creates its thread and
// coordinator agents and persists a new record.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session id is required", errors.ErrInvalidInput)
	}

	record, err := m.load(ctx, id)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	created, err := m.create(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, created); err != nil {
		m.release(ctx, created)
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("session created", "session_id", id, "thread_id", created.ThreadID)
	}
	return created.Clone(), nil
}

func (m *Manager) create(ctx context.Context, id string) (*Record, error) {
	now := time.Now().UTC()
	record := &Record{ID: id, CreatedAt: now, UpdatedAt: now}

	threadID, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
		return m.capability.CreateThread(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: create thread: %w", id, err)
	}
	record.ThreadID = threadID
	m.events.Record(id, eventlog.ThreadCreated, "New thread ID: "+threadID)

	routing, synthesis := m.builder.Coordinators()
	for _, slot := range []struct {
		def agent.Definition
		dst *string
	}{
		{routing, &record.RoutingAgentID},
		{synthesis, &record.SynthesisAgentID},
	} {
		def := slot.def
		agentID, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
			return m.capability.CreateAgent(ctx, def)
		})
		if err != nil {
			m.release(ctx, record)
			return nil, fmt.Errorf("session %s: create %s: %w", id, def.Name, err)
		}
		*slot.dst = agentID
	}
	return record, nil
}

// EnsureSpecialist returns the handle of the named specialist, creating the
// agent and persisting the record on first use. record is updated in place.
func (m *Manager) EnsureSpecialist(ctx context.Context, record *Record, name string) (string, error) {
	if !IsSpecialist(name) {
		return "", fmt.Errorf("%w: unknown specialist %q", errors.ErrInvalidInput, name)
	}
	if id, ok := record.Specialist(name); ok {
		return id, nil
	}

	var conns []agent.Connection
	if _, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
		var err error
		conns, err = m.capability.ListConnections(ctx)
		return "", err
	}); err != nil {
		return "", fmt.Errorf("session %s: list connections: %w", record.ID, err)
	}

	def, err := m.builder.Specialist(name, conns)
	if err != nil {
		return "", fmt.Errorf("session %s: build %s: %w", record.ID, name, err)
	}
	m.noteDegradedTools(record.ID, def)

	agentID, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
		return m.capability.CreateAgent(ctx, def)
	})
	if err != nil {
		return "", fmt.Errorf("session %s: create %s: %w", record.ID, name, err)
	}

	updated := record.Clone()
	if err := updated.SetSpecialist(name, agentID); err != nil {
		return "", err
	}
	if err := m.save(ctx, updated); err != nil {
		m.deleteAgent(ctx, record.ID, agentID)
		return "", err
	}
	*record = *updated

	if m.logger != nil {
		m.logger.Info("specialist created", "session_id", record.ID, "specialist", name, "agent_id", agentID)
	}
	return agentID, nil
}

func (m *Manager) noteDegradedTools(sessionID string, def agent.Definition) {
	for _, b := range def.Tools {
		if b.Kind != agent.ToolKindAzureAISearch || b.Config[agent.ConfigConnectionID] != "" {
			continue
		}
		if m.logger != nil {
			m.logger.Warn("no search connection registered; search answers will be empty",
				"session_id", sessionID, "agent", def.Name, "tool", b.Name)
		}
		m.events.Record(sessionID, eventlog.SearchDegraded, fmt.Sprintf("%s bound %s without a search connection", def.Name, b.Name))
	}
}

// End releases the session's agents and thread and deletes its record. It
// reports false when there was no session to end. Handle releases are best
// effort; only a failure to delete the record fails the call.
func (m *Manager) End(ctx context.Context, id string) (bool, error) {
	record, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	releaseErr := m.release(ctx, record)

	if err := m.delete(ctx, id); err != nil {
		return false, errors.Join(err, releaseErr)
	}
	m.events.Record(id, eventlog.SessionEnded, "Session ended")
	if m.logger != nil {
		m.logger.Info("session ended", "session_id", id)
	}
	return true, nil
}

// Reset releases the handles of a session whose record no longer matches the
// runtime and deletes the record, so the next GetOrCreate starts afresh.
// Resetting an unknown session is not an error.
func (m *Manager) Reset(ctx context.Context, id string) error {
	record, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := m.release(ctx, record); err != nil && m.logger != nil {
		m.logger.Warn("reset left handles behind", "session_id", id, "error", err)
	}
	if err := m.delete(ctx, id); err != nil {
		return err
	}
	m.events.Record(id, eventlog.SessionReset, "Stale session handles released")
	if m.logger != nil {
		m.logger.Info("session reset", "session_id", id)
	}
	return nil
}

// release deletes every handle of the record, attempting all of them.
func (m *Manager) release(ctx context.Context, record *Record) error {
	var errs []error
	for _, agentID := range record.AgentIDs() {
		if err := m.deleteAgent(ctx, record.ID, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	if record.ThreadID != "" {
		if _, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
			return "", m.capability.DeleteThread(ctx, record.ThreadID)
		}); err != nil {
			if m.logger != nil {
				m.logger.Warn("release thread failed", "session_id", record.ID, "thread_id", record.ThreadID, "error", err)
			}
			errs = append(errs, fmt.Errorf("delete thread %s: %w", record.ThreadID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) deleteAgent(ctx context.Context, sessionID, agentID string) error {
	_, err := m.callAgent(ctx, func(ctx context.Context) (string, error) {
		return "", m.capability.DeleteAgent(ctx, agentID)
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("release agent failed", "session_id", sessionID, "agent_id", agentID, "error", err)
		}
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := bounded(ctx, m.storeTimeout)
	defer cancel()
	record, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session %s: %w: %w", id, errors.ErrUnavailable, err)
	}
	return record, nil
}

func (m *Manager) save(ctx context.Context, record *Record) error {
	ctx, cancel := bounded(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, record); err != nil {
		return fmt.Errorf("save session %s: %w: %w", record.ID, errors.ErrUnavailable, err)
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, id string) error {
	ctx, cancel := bounded(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w: %w", id, errors.ErrUnavailable, err)
	}
	return nil
}

func (m *Manager) callAgent(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := bounded(ctx, m.agentTimeout)
	defer cancel()
	return fn(ctx)
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
