package mcpserver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/ai-router/router"
)

type fakeTurner struct {
	mu       sync.Mutex
	sessions map[string]int
}

func (f *fakeTurner) HandleTurn(_ context.Context, sessionID, message string) (*router.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID]++
	return &router.TurnResult{SessionID: sessionID, Answer: "## Answer\n" + message}, nil
}

func (f *fakeTurner) EndSession(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[sessionID]
	delete(f.sessions, sessionID)
	return ok, nil
}

func connect(t *testing.T, turns Turner) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	server := NewServer(turns)
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func texts(t *testing.T, res *mcp.CallToolResult) []string {
	t.Helper()
	var out []string
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			t.Fatalf("unexpected content %T", c)
		}
		out = append(out, tc.Text)
	}
	return out
}

func TestTools(t *testing.T) {
	turns := &fakeTurner{sessions: map[string]int{}}
	session := connect(t, turns)
	ctx := context.Background()

	t.Run("lists tools", func(t *testing.T) {
		res, err := session.ListTools(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		names := map[string]bool{}
		for _, tool := range res.Tools {
			names[tool.Name] = true
		}
		if !names[AskTool] || !names[EndSessionTool] {
			t.Errorf("missing tools: %v", names)
		}
	})

	var minted string
	t.Run("ask mints a session", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      AskTool,
			Arguments: map[string]any{"message": "Which cinemas show Dune?"},
		})
		if err != nil {
			t.Fatal(err)
		}
		got := texts(t, res)
		if len(got) != 2 || got[0] != "## Answer\nWhich cinemas show Dune?" || !strings.HasPrefix(got[1], "session_id: ") {
			t.Fatalf("unexpected content %q", got)
		}
		minted = strings.TrimPrefix(got[1], "session_id: ")
	})

	t.Run("ask reuses a session", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      AskTool,
			Arguments: map[string]any{"session_id": minted, "message": "And tomorrow?"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := texts(t, res); len(got) != 1 {
			t.Errorf("session id must not be echoed for existing sessions: %q", got)
		}
		if turns.sessions[minted] != 2 {
			t.Errorf("turns on %s = %d, want 2", minted, turns.sessions[minted])
		}
	})

	t.Run("blank message is a tool error", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      AskTool,
			Arguments: map[string]any{"message": "  "},
		})
		if err == nil && !res.IsError {
			t.Error("expected an error result")
		}
	})

	t.Run("end session", func(t *testing.T) {
		for _, want := range []string{"Session ended", "No active session"} {
			res, err := session.CallTool(ctx, &mcp.CallToolParams{
				Name:      EndSessionTool,
				Arguments: map[string]any{"session_id": minted},
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := texts(t, res); len(got) != 1 || got[0] != want {
				t.Errorf("got %q, want %q", got, want)
			}
		}
	})
}
