// Package connection holds the registry of external connections agents may
// reach through their tool bindings.
package connection

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sweetpotato0/ai-router/agent"
)

// TypeAzureAISearch is the metadata type of a search connection.
const TypeAzureAISearch = "AZURE_AI_SEARCH"

// MetadataType is the metadata key carrying the connection type.
const MetadataType = "type"

// Registry lists the registered connections.
type Registry interface {
	List(ctx context.Context) ([]agent.Connection, error)
}

// Static is an in-memory registry.
type Static []agent.Connection

// List returns a copy of the connections.
func (s Static) List(context.Context) ([]agent.Connection, error) {
	out := make([]agent.Connection, len(s))
	copy(out, s)
	return out, nil
}

// FileRegistry reads connections from a YAML file. The file is read once on
// first use; ${VAR} references are expanded from the environment.
type FileRegistry struct {
	path string

	once  sync.Once
	conns []agent.Connection
	err   error
}

// NewFileRegistry creates a registry backed by path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// List returns the connections declared in the file.
func (r *FileRegistry) List(ctx context.Context) ([]agent.Connection, error) {
	r.once.Do(func() {
		r.conns, r.err = r.load()
	})
	if r.err != nil {
		return nil, r.err
	}
	return Static(r.conns).List(ctx)
}

type fileFormat struct {
	Connections []agent.Connection `yaml:"connections"`
}

func (r *FileRegistry) load() ([]agent.Connection, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("connection: read %s: %w", r.path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse decodes a YAML connection document.
func Parse(raw []byte) ([]agent.Connection, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("connection: decode: %w", err)
	}
	for i, c := range doc.Connections {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("connection: entry %d has no id", i)
		}
	}
	return doc.Connections, nil
}

// Find returns the connection with the given id.
func Find(conns []agent.Connection, id string) (agent.Connection, bool) {
	for _, c := range conns {
		if c.ID == id {
			return c, true
		}
	}
	return agent.Connection{}, false
}

// ResolveSearch returns the id of the first search connection, or "" when
// none is registered.
func ResolveSearch(conns []agent.Connection) string {
	for _, c := range conns {
		if strings.EqualFold(c.Metadata[MetadataType], TypeAzureAISearch) {
			return c.ID
		}
	}
	return ""
}
