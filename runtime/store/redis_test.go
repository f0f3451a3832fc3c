package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/contrib/provider/mock"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/message"
	"github.com/sweetpotato0/ai-router/runtime"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "test:", 0)
}

func TestRedisStoreThreads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateThread(ctx, "t1"); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if err := s.CreateThread(ctx, "t1"); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	first := message.NewMessage(message.RoleUser, "hello").WithAgent("docuAgent")
	second := message.NewMessage(message.RoleAssistant, "hi").WithAgent("docuAgent")
	if err := s.AppendMessages(ctx, "t1", first, second); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	msgs, err := s.Messages(ctx, "t1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello" || msgs[1].Agent() != "docuAgent" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	if err := s.AppendMessages(ctx, "missing", first); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.DeleteThread(ctx, "t1"); err != nil {
			t.Fatalf("DeleteThread failed: %v", err)
		}
	}
	if _, err := s.Messages(ctx, "t1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	def := agent.Definition{
		Name:         "movieAgent",
		Instructions: "Movies.",
		Tools: []agent.ToolBinding{{
			Kind:   agent.ToolKindOpenAPI,
			Name:   "cinemasapi",
			Config: map[string]string{agent.ConfigSpecPath: "cinemas.json", agent.ConfigAuth: agent.AuthAnonymous},
		}},
	}
	if err := s.SaveAgent(ctx, "a1", def); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}
	loaded, err := s.LoadAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if loaded.Name != def.Name || len(loaded.Tools) != 1 || loaded.Tools[0].Config[agent.ConfigSpecPath] != "cinemas.json" {
		t.Errorf("unexpected definition %+v", loaded)
	}

	if err := s.DeleteAgent(ctx, "a1"); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}
	if _, err := s.LoadAgent(ctx, "a1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuntimeOverRedis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r, err := runtime.New(mock.New(mock.Script(mock.Text("shared"))), runtime.WithStore(s))
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}

	threadID, err := r.CreateThread(ctx)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	agentID, err := r.CreateAgent(ctx, agent.Definition{Name: "x", Instructions: "X."})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	reply, err := agent.Ask(ctx, r, threadID, agentID, "q")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "shared" {
		t.Errorf("reply = %q", reply)
	}

	msgs, err := s.Messages(ctx, threadID)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(msgs))
	}
}
