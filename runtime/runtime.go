// Package runtime is a local implementation of agent.Capability: threads
// shared by several agents, each agent answering through an LLM client with
// its own instructions and tools.
package runtime

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/connection"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/message"
	"github.com/sweetpotato0/ai-router/pkg/logging"
	"github.com/sweetpotato0/ai-router/tool"
)

// DefaultMaxIterations bounds the tool-call loop of one invocation.
const DefaultMaxIterations = 10

// Runtime implements agent.Capability.
type Runtime struct {
	llm           agent.LLMClient
	store         Store
	tools         ToolFactory
	connections   connection.Registry
	model         string
	maxIterations int
	logger        *slog.Logger
}

var _ agent.Capability = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithStore sets the state store. The default keeps state in memory.
func WithStore(store Store) Option {
	return func(r *Runtime) {
		if store != nil {
			r.store = store
		}
	}
}

// WithToolFactory sets how tool bindings are materialised.
func WithToolFactory(f ToolFactory) Option {
	return func(r *Runtime) {
		if f != nil {
			r.tools = f
		}
	}
}

// WithConnections sets the connection registry.
func WithConnections(reg connection.Registry) Option {
	return func(r *Runtime) {
		r.connections = reg
	}
}

// WithModel sets the model used for agents whose definition names none.
func WithModel(model string) Option {
	return func(r *Runtime) {
		r.model = model
	}
}

// WithMaxIterations bounds the tool-call loop.
func WithMaxIterations(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// New creates a runtime answering through llm.
func New(llm agent.LLMClient, opts ...Option) (*Runtime, error) {
	if llm == nil {
		return nil, fmt.Errorf("runtime: llm client cannot be nil")
	}
	r := &Runtime{
		llm:           llm,
		store:         NewMemoryStore(),
		maxIterations: DefaultMaxIterations,
		logger:        logging.WithComponent("runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tools == nil {
		r.tools = NewBindingFactory(nil, r.logger)
	}
	return r, nil
}

// CreateThread opens an empty thread.
func (r *Runtime) CreateThread(ctx context.Context) (string, error) {
	id := "thread_" + uuid.NewString()
	if err := r.store.CreateThread(ctx, id); err != nil {
		return "", fmt.Errorf("runtime: create thread: %w", err)
	}
	return id, nil
}

// DeleteThread removes a thread and its messages.
func (r *Runtime) DeleteThread(ctx context.Context, threadID string) error {
	if err := r.store.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("runtime: delete thread %s: %w", threadID, err)
	}
	return nil
}

// CreateAgent validates and stores def.
func (r *Runtime) CreateAgent(ctx context.Context, def agent.Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	if def.Model == "" {
		def.Model = r.model
	}
	id := "asst_" + uuid.NewString()
	if err := r.store.SaveAgent(ctx, id, def); err != nil {
		return "", fmt.Errorf("runtime: create agent %s: %w", def.Name, err)
	}
	if r.logger != nil {
		r.logger.Debug("agent created", "agent", def.Name, "agent_id", id, "tools", len(def.Tools))
	}
	return id, nil
}

// DeleteAgent removes an agent definition.
func (r *Runtime) DeleteAgent(ctx context.Context, agentID string) error {
	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return fmt.Errorf("runtime: delete agent %s: %w", agentID, err)
	}
	return nil
}

// AddMessage appends a user turn addressed to agentID.
func (r *Runtime) AddMessage(ctx context.Context, threadID, agentID, content string) error {
	def, err := r.store.LoadAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("runtime: add message: %w", err)
	}
	msg := message.NewMessage(message.RoleUser, content).WithAgent(def.Name)
	if err := r.store.AppendMessages(ctx, threadID, msg); err != nil {
		return fmt.Errorf("runtime: add message: %w", err)
	}
	return nil
}

// ListConnections returns the registered connections.
func (r *Runtime) ListConnections(ctx context.Context) ([]agent.Connection, error) {
	if r.connections == nil {
		return nil, nil
	}
	conns, err := r.connections.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list connections: %w", err)
	}
	return conns, nil
}

// Invoke runs the agent against the thread. Text fragments are yielded in
// emission order; the agent's messages are appended to the thread once the
// reply is complete.
func (r *Runtime) Invoke(ctx context.Context, threadID, agentID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		produced, err := r.invoke(ctx, threadID, agentID, yield)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("agent invocation failed", "thread_id", threadID, "agent_id", agentID, "error", err)
			}
			yield("", err)
			return
		}
		if produced == nil {
			return
		}
		if err := r.store.AppendMessages(ctx, threadID, produced...); err != nil {
			yield("", fmt.Errorf("runtime: record reply: %w", err))
			return
		}
		if r.logger != nil {
			r.logger.Debug("agent invocation completed", "thread_id", threadID, "agent_id", agentID,
				"messages", len(produced), "duration_ms", time.Since(start).Milliseconds())
		}
	}
}

// invoke returns the messages produced by the agent, or nil when the consumer
// stopped the stream early.
func (r *Runtime) invoke(ctx context.Context, threadID, agentID string, yield func(string, error) bool) ([]*message.Message, error) {
	def, err := r.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("runtime: invoke: %w", err)
	}
	history, err := r.store.Messages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("runtime: invoke: %w", err)
	}
	registry, err := r.toolRegistry(ctx, def)
	if err != nil {
		return nil, err
	}

	conversation := make([]*message.Message, 0, len(history)+1)
	conversation = append(conversation, message.NewMessage(message.RoleSystem, def.Instructions))
	conversation = append(conversation, visibleTo(def.Name, history)...)

	var produced []*message.Message
	for i := 0; i < r.maxIterations; i++ {
		req := &agent.GenerateRequest{
			Model:    def.Model,
			Messages: conversation,
			Tools:    registry.ToJSONSchemas(),
		}
		reply, stopped, err := r.generate(ctx, req, yield)
		if err != nil {
			return nil, fmt.Errorf("runtime: agent %s: %w", def.Name, err)
		}
		if stopped {
			return nil, nil
		}
		reply.Role = message.RoleAssistant
		reply.WithAgent(def.Name)
		conversation = append(conversation, reply)
		produced = append(produced, reply)

		if len(reply.ToolCalls) == 0 {
			return produced, nil
		}

		for _, call := range reply.ToolCalls {
			result, err := registry.Execute(ctx, call.Name, call.Args)
			if err != nil {
				if r.logger != nil {
					r.logger.Warn("tool call failed", "agent", def.Name, "tool", call.Name, "error", err)
				}
				result = fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
			}
			toolMsg := message.NewToolResponseMessage(call.ID, result).WithAgent(def.Name)
			conversation = append(conversation, toolMsg)
			produced = append(produced, toolMsg)
		}
	}
	return nil, fmt.Errorf("runtime: agent %s: max iterations (%d) reached", def.Name, r.maxIterations)
}

func (r *Runtime) toolRegistry(ctx context.Context, def agent.Definition) (*tool.Registry, error) {
	if len(def.Tools) == 0 {
		return tool.NewRegistry()
	}
	conns, err := r.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	tools, err := r.tools.Tools(ctx, def.Tools, conns)
	if err != nil {
		return nil, fmt.Errorf("runtime: agent %s tools: %w", def.Name, err)
	}
	return tool.NewRegistry(tools...)
}

// generate calls the LLM, streaming content deltas through yield when the
// client supports it. stopped reports that yield asked to stop.
func (r *Runtime) generate(ctx context.Context, req *agent.GenerateRequest, yield func(string, error) bool) (*message.Message, bool, error) {
	streamer, ok := r.llm.(agent.StreamLLMClient)
	if !ok {
		resp, err := r.llm.Generate(ctx, req)
		if err != nil {
			return nil, false, err
		}
		if resp == nil || resp.Message == nil {
			return nil, false, fmt.Errorf("llm returned no message")
		}
		if resp.Message.Content != "" && !yield(resp.Message.Content, nil) {
			return nil, true, nil
		}
		return resp.Message, false, nil
	}

	var final *message.Message
	for msg, err := range streamer.GenerateStream(ctx, req) {
		if err != nil {
			return nil, false, err
		}
		if msg == nil {
			continue
		}
		if msg.Completed {
			final = msg
			continue
		}
		if msg.Content != "" && !yield(msg.Content, nil) {
			return nil, true, nil
		}
	}
	if final == nil {
		return nil, false, fmt.Errorf("llm stream ended without final message")
	}
	return final, false, nil
}

// visibleTo filters the shared thread for one agent: every user turn and
// every assistant text turn are visible; tool traffic is private to the agent
// that produced it.
func visibleTo(name string, history []*message.Message) []*message.Message {
	out := make([]*message.Message, 0, len(history))
	for _, msg := range history {
		private := msg.Role == message.RoleTool || len(msg.ToolCalls) > 0
		if private && !strings.EqualFold(msg.Agent(), name) {
			continue
		}
		out = append(out, msg)
	}
	return out
}
