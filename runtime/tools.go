package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/connection"
	"github.com/sweetpotato0/ai-router/tool"
	"github.com/sweetpotato0/ai-router/tool/openapi"
	"github.com/sweetpotato0/ai-router/tool/search"
)

// ToolFactory materialises an agent's tool bindings.
type ToolFactory interface {
	Tools(ctx context.Context, bindings []agent.ToolBinding, conns []agent.Connection) ([]*tool.Tool, error)
}

// ToolFactoryFunc adapts a function to ToolFactory.
type ToolFactoryFunc func(ctx context.Context, bindings []agent.ToolBinding, conns []agent.Connection) ([]*tool.Tool, error)

// Tools calls f.
func (f ToolFactoryFunc) Tools(ctx context.Context, bindings []agent.ToolBinding, conns []agent.Connection) ([]*tool.Tool, error) {
	return f(ctx, bindings, conns)
}

// BindingFactory builds search and OpenAPI tools. Parsed OpenAPI documents
// are loaded once per path.
type BindingFactory struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	docs map[string]*openapi.Document
}

// NewBindingFactory creates a factory. A nil client uses the tool defaults.
func NewBindingFactory(httpClient *http.Client, logger *slog.Logger) *BindingFactory {
	return &BindingFactory{
		httpClient: httpClient,
		logger:     logger,
		docs:       make(map[string]*openapi.Document),
	}
}

// Tools resolves every binding into one or more tools.
func (f *BindingFactory) Tools(ctx context.Context, bindings []agent.ToolBinding, conns []agent.Connection) ([]*tool.Tool, error) {
	var tools []*tool.Tool
	for _, b := range bindings {
		switch b.Kind {
		case agent.ToolKindAzureAISearch:
			t, err := f.searchTool(b, conns)
			if err != nil {
				return nil, err
			}
			tools = append(tools, t)
		case agent.ToolKindOpenAPI:
			ts, err := f.openAPITools(b)
			if err != nil {
				return nil, err
			}
			tools = append(tools, ts...)
		default:
			return nil, fmt.Errorf("runtime: unsupported tool kind %q", b.Kind)
		}
	}
	return tools, nil
}

func (f *BindingFactory) searchTool(b agent.ToolBinding, conns []agent.Connection) (*tool.Tool, error) {
	cfg := search.Config{
		Name:       b.Name,
		IndexName:  b.Config[agent.ConfigIndexName],
		HTTPClient: f.httpClient,
	}
	if id := b.Config[agent.ConfigConnectionID]; id != "" {
		conn, ok := connection.Find(conns, id)
		if !ok {
			return nil, fmt.Errorf("runtime: connection %q is not registered", id)
		}
		cfg.Endpoint = conn.Target
		cfg.APIKey = conn.Key
	}
	st := search.New(cfg)
	if st.Degraded() && f.logger != nil {
		f.logger.Warn("search tool bound without a usable index", "tool", b.Name)
	}
	return st.Definition(b.Description), nil
}

func (f *BindingFactory) openAPITools(b agent.ToolBinding) ([]*tool.Tool, error) {
	if auth := b.Config[agent.ConfigAuth]; auth != "" && auth != agent.AuthAnonymous {
		return nil, fmt.Errorf("runtime: unsupported openapi auth %q", auth)
	}
	doc, err := f.document(b.Config[agent.ConfigSpecPath])
	if err != nil {
		return nil, err
	}
	return openapi.Tools(doc, openapi.Config{Name: b.Name, HTTPClient: f.httpClient})
}

func (f *BindingFactory) document(path string) (*openapi.Document, error) {
	if path == "" {
		return nil, fmt.Errorf("runtime: openapi binding has no spec path")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[path]; ok {
		return doc, nil
	}
	doc, err := openapi.Load(path)
	if err != nil {
		return nil, err
	}
	f.docs[path] = doc
	return doc, nil
}
