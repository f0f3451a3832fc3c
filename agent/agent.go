// Package agent defines the agent capability the router is built on: named
// agents with fixed instructions and optional tool bindings that take turns
// on a shared thread and stream their replies.
package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// ToolKind identifies how a tool binding is materialised by the runtime.
type ToolKind string

const (
	// ToolKindAzureAISearch binds a search index reached through a registered connection.
	ToolKindAzureAISearch ToolKind = "azure_ai_search"
	// ToolKindOpenAPI binds every operation of an OpenAPI document.
	ToolKindOpenAPI ToolKind = "openapi"
)

// Tool binding configuration keys.
const (
	ConfigConnectionID = "connection_id"
	ConfigIndexName    = "index_name"
	ConfigSpecPath     = "spec_path"
	ConfigAuth         = "auth"

	AuthAnonymous = "anonymous"
)

// ToolBinding is a serializable description of a tool attached to an agent.
type ToolBinding struct {
	Kind        ToolKind          `json:"kind" bson:"kind"`
	Name        string            `json:"name" bson:"name"`
	Description string            `json:"description,omitempty" bson:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty" bson:"config,omitempty"`
}

// Definition captures the immutable configuration of an agent.
type Definition struct {
	Name         string        `json:"name"`
	Instructions string        `json:"instructions"`
	Model        string        `json:"model,omitempty"`
	Tools        []ToolBinding `json:"tools,omitempty"`
}

// Validate ensures the definition is well formed before an agent is created.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent: definition name is required")
	}
	if strings.TrimSpace(d.Instructions) == "" {
		return fmt.Errorf("agent: definition instructions are required")
	}
	for _, t := range d.Tools {
		switch t.Kind {
		case ToolKindAzureAISearch, ToolKindOpenAPI:
		default:
			return fmt.Errorf("agent: unsupported tool kind %q", t.Kind)
		}
	}
	return nil
}

// Connection is an entry of the capability's connection registry.
type Connection struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Target   string            `json:"target" yaml:"target"`
	Key      string            `json:"-" yaml:"key"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Capability is the agent runtime contract: threads, agents and the turns
// recorded against them.
type Capability interface {
	// CreateThread opens a new shared conversation context.
	CreateThread(ctx context.Context) (string, error)
	// DeleteThread releases a thread. Deleting an unknown thread is not an error.
	DeleteThread(ctx context.Context, threadID string) error
	// CreateAgent registers an agent and returns its handle.
	CreateAgent(ctx context.Context, def Definition) (string, error)
	// DeleteAgent releases an agent. Deleting an unknown agent is not an error.
	DeleteAgent(ctx context.Context, agentID string) error
	// AddMessage appends a user-authored turn addressed to agentID.
	AddMessage(ctx context.Context, threadID, agentID, content string) error
	// Invoke runs the agent against the thread and streams its reply fragments.
	Invoke(ctx context.Context, threadID, agentID string) iter.Seq2[string, error]
	// ListConnections returns the registered connections.
	ListConnections(ctx context.Context) ([]Connection, error)
}
