// Package conversation holds the durable, append-only transcripts of routed
// conversations.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/pkg/logging"
)

// Transcript roles.
const (
	RoleUser      = "User"
	RoleSynthesis = "Agent CoordinatorSynthesis"
)

// AgentRole is the transcript role of a specialist reply.
func AgentRole(name string) string {
	return "Agent " + name
}

// UnnamedConversation labels a conversation with no usable first message.
const UnnamedConversation = "Unnamed Conversation"

// NameLength is the number of characters of the first message used as name.
const NameLength = 25

// Entry is one transcript line.
type Entry struct {
	Role    string `json:"role" bson:"role"`
	Message string `json:"message" bson:"message"`
}

// Conversation is a persisted transcript.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Messages  []Entry   `json:"messages" bson:"messages"`
	UpdatedAt time.Time `json:"-" bson:"updated_at"`
}

// Summary is the listing form of a conversation.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.Messages = append([]Entry(nil), c.Messages...)
	return &cloned
}

// DeriveName returns name when set, otherwise the first NameLength characters
// of the first message, otherwise UnnamedConversation.
func DeriveName(name string, messages []Entry) string {
	if name != "" {
		return name
	}
	if len(messages) == 0 || messages[0].Message == "" {
		return UnnamedConversation
	}
	runes := []rune(messages[0].Message)
	if len(runes) > NameLength {
		runes = runes[:NameLength]
	}
	return string(runes)
}

// Store persists conversations.
type Store interface {
	// Get returns errors.ErrNotFound when the conversation does not exist.
	Get(ctx context.Context, id string) (*Conversation, error)
	// Save inserts or replaces the conversation.
	Save(ctx context.Context, c *Conversation) error
	List(ctx context.Context) ([]Summary, error)
}

// Log appends turns to transcripts and wraps store failures as
// errors.ErrUnavailable.
type Log struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) LogOption {
	return func(l *Log) {
		l.timeout = d
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLog creates a Log over store.
func NewLog(store Store, opts ...LogOption) *Log {
	l := &Log{store: store, logger: logging.WithComponent("conversation")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append loads or creates the transcript, appends entries in order and saves.
func (l *Log) Append(ctx context.Context, id string, entries ...Entry) error {
	c, err := l.Get(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrNotFound):
		c = &Conversation{ID: id}
	default:
		return err
	}
	c.Messages = append(c.Messages, entries...)
	if err := l.Save(ctx, c); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("transcript appended", "conversation_id", id, "entries", len(entries), "total", len(c.Messages))
	}
	return nil
}

// Get loads a transcript.
func (l *Log) Get(ctx context.Context, id string) (*Conversation, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	c, err := l.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load conversation %s: %w: %w", id, errors.ErrUnavailable, err)
	}
	return c, nil
}

// Save derives the name when missing and upserts the transcript.
func (l *Log) Save(ctx context.Context, c *Conversation) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: conversation id is required", errors.ErrInvalidInput)
	}
	c.Name = DeriveName(c.Name, c.Messages)
	c.UpdatedAt = time.Now().UTC()

	ctx, cancel := l.bounded(ctx)
	defer cancel()
	if err := l.store.Save(ctx, c); err != nil {
		return fmt.Errorf("save conversation %s: %w: %w", c.ID, errors.ErrUnavailable, err)
	}
	return nil
}

// List returns every conversation summary.
func (l *Log) List(ctx context.Context) ([]Summary, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()
	summaries, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w: %w", errors.ErrUnavailable, err)
	}
	return summaries, nil
}

func (l *Log) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, Summary{ID: c.ID, Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
