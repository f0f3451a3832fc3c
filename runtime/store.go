package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/message"
)

// Store persists threads and agent definitions.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateThread(ctx context.Context, id string) error
	// DeleteThread removes a thread; an unknown id is not an error.
	DeleteThread(ctx context.Context, id string) error
	// AppendMessages appends to an existing thread, or returns errors.ErrNotFound.
	AppendMessages(ctx context.Context, threadID string, msgs ...*message.Message) error
	// Messages returns the thread in append order, or errors.ErrNotFound.
	Messages(ctx context.Context, threadID string) ([]*message.Message, error)

	SaveAgent(ctx context.Context, id string, def agent.Definition) error
	// LoadAgent returns errors.ErrNotFound for unknown ids.
	LoadAgent(ctx context.Context, id string) (agent.Definition, error)
	// DeleteAgent removes an agent; an unknown id is not an error.
	DeleteAgent(ctx context.Context, id string) error
}

// MemoryStore keeps runtime state in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*message.Message
	agents  map[string]agent.Definition
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*message.Message),
		agents:  make(map[string]agent.Definition),
	}
}

func (s *MemoryStore) CreateThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; ok {
		return fmt.Errorf("thread %s: %w", id, errors.ErrAlreadyExists)
	}
	s.threads[id] = nil
	return nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	return nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, threadID string, msgs ...*message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, errors.ErrNotFound)
	}
	for _, msg := range msgs {
		thread = append(thread, message.Clone(msg))
	}
	s.threads[threadID] = thread
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, threadID string) ([]*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, errors.ErrNotFound)
	}
	return message.CloneMessages(thread), nil
}

func (s *MemoryStore) SaveAgent(_ context.Context, id string, def agent.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[id] = def
	return nil
}

func (s *MemoryStore) LoadAgent(_ context.Context, id string) (agent.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.agents[id]
	if !ok {
		return agent.Definition{}, fmt.Errorf("agent %s: %w", id, errors.ErrNotFound)
	}
	return def, nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// Counts reports the number of live threads and agents.
func (s *MemoryStore) Counts() (threads, agents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads), len(s.agents)
}
