// Package mcpserver exposes the router as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/pkg/logging"
	"github.com/sweetpotato0/ai-router/router"
)

// Tool names.
const (
	AskTool        = "ask"
	EndSessionTool = "end_session"
)

// Turner runs turns and ends sessions.
type Turner interface {
	HandleTurn(ctx context.Context, sessionID, message string) (*router.TurnResult, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
}

type askArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session to continue; a new one is started when omitted"`
	Message   string `json:"message" jsonschema:"The user query"`
}

type endSessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session to end"`
}

type options struct {
	name    string
	version string
	logger  *slog.Logger
}

// Option configures the MCP server.
type Option func(*options)

// WithImplementation sets the server name and version advertised to clients.
func WithImplementation(name, version string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
		if version != "" {
			o.version = version
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewServer builds an MCP server with the ask and end_session tools.
func NewServer(turns Turner, opts ...Option) *mcp.Server {
	o := options{
		name:    "ai-router",
		version: "0.1.0",
		logger:  logging.WithComponent("mcp"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    o.name,
		Version: o.version,
		Title:   "Multi-agent query router",
	}, nil)

	addAskTool(server, turns, o.logger)
	addEndSessionTool(server, turns, o.logger)
	return server
}

// Serve runs the server over stdio until the client disconnects or ctx ends.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func addAskTool(server *mcp.Server, turns Turner, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        AskTool,
		Description: "Route a question to the specialist agents and return the synthesized answer",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, a askArgs) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(a.Message) == "" {
			return nil, nil, fmt.Errorf("%w: message is required", errors.ErrInvalidInput)
		}

		sessionID := strings.TrimSpace(a.SessionID)
		minted := sessionID == ""
		if minted {
			sessionID = uuid.NewString()
		}

		result, err := turns.HandleTurn(ctx, sessionID, a.Message)
		if err != nil {
			if logger != nil {
				logger.Warn("ask failed", "session_id", sessionID, "error", err)
			}
			return nil, nil, err
		}
		if result.PersistErr != nil && logger != nil {
			logger.Warn("answer not persisted", "session_id", sessionID, "error", result.PersistErr)
		}

		content := []mcp.Content{&mcp.TextContent{Text: result.Answer}}
		if minted {
			content = append(content, &mcp.TextContent{Text: "session_id: " + sessionID})
		}
		return &mcp.CallToolResult{Content: content}, nil, nil
	})
}

func addEndSessionTool(server *mcp.Server, turns Turner, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        EndSessionTool,
		Description: "End a session and release its agents",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, a endSessionArgs) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(a.SessionID) == "" {
			return nil, nil, fmt.Errorf("%w: session_id is required", errors.ErrInvalidInput)
		}
		ended, err := turns.EndSession(ctx, a.SessionID)
		if err != nil {
			if logger != nil {
				logger.Warn("end session failed", "session_id", a.SessionID, "error", err)
			}
			return nil, nil, err
		}
		status := "No active session"
		if ended {
			status = "Session ended"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: status}},
		}, nil, nil
	})
}
