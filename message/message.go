package message

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MetadataAgent is the metadata key holding the name of the agent that
// authored or was addressed by a thread message.
const MetadataAgent = "agent"

// Message represents a single message in a thread
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"` // For tool response messages
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// Completed marks the final message of a streamed generation. Partial
	// stream fragments carry only the content delta.
	Completed bool `json:"-"`
}

// ToolCall represents a tool invocation request
type ToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Response string         `json:"response,omitempty"` // Filled after tool execution
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// Text returns the textual content of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	return m.Content
}

// Agent returns the agent name recorded in the message metadata.
func (m *Message) Agent() string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	name, _ := m.Metadata[MetadataAgent].(string)
	return name
}

// WithAgent records the agent name in the message metadata.
func (m *Message) WithAgent(name string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[MetadataAgent] = name
	return m
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cloned.Metadata[k] = v
		}
	}
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			cloned.ToolCalls[i] = cloneToolCall(tc)
		}
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

func cloneToolCall(call ToolCall) ToolCall {
	cloned := ToolCall{
		ID:       call.ID,
		Name:     call.Name,
		Response: call.Response,
	}
	if call.Args != nil {
		cloned.Args = make(map[string]any, len(call.Args))
		for k, v := range call.Args {
			cloned.Args[k] = v
		}
	}
	return cloned
}

// NewToolCallMessage creates a message with tool calls
func NewToolCallMessage(toolCalls []ToolCall) *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.ToolCalls = toolCalls
	return msg
}

// NewToolResponseMessage creates a tool response message
func NewToolResponseMessage(toolID, content string) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolID = toolID
	return msg
}

func generateID() string {
	return "msg_" + uuid.NewString()
}
