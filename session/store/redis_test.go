package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/session"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStoreWithClient(client, "test:session:", time.Hour)

	t.Run("load missing", func(t *testing.T) {
		if _, err := s.Load(ctx, "nope"); !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("round trip keeps null specialists", func(t *testing.T) {
		rec := &session.Record{ID: "s1", ThreadID: "t1", RoutingAgentID: "r1", SynthesisAgentID: "y1"}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		raw, err := mr.Get("test:session:s1")
		if err != nil {
			t.Fatalf("raw get failed: %v", err)
		}
		if want := `"docu_agent_id":null`; !strings.Contains(raw, want) {
			t.Errorf("stored record %s does not contain %s", raw, want)
		}

		loaded, err := s.Load(ctx, "s1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.ThreadID != "t1" || loaded.DocuAgentID != nil {
			t.Errorf("unexpected record %+v", loaded)
		}
		if ttl := mr.TTL("test:session:s1"); ttl != time.Hour {
			t.Errorf("ttl = %v, want 1h", ttl)
		}
	})

	t.Run("specialist handles persist", func(t *testing.T) {
		rec, _ := s.Load(ctx, "s1")
		if err := rec.SetSpecialist(session.MovieAgent, "m1"); err != nil {
			t.Fatalf("SetSpecialist failed: %v", err)
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		loaded, _ := s.Load(ctx, "s1")
		if id, ok := loaded.Specialist(session.MovieAgent); !ok || id != "m1" {
			t.Errorf("movie agent = %q, %v", id, ok)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		ids, err := s.List(ctx)
		if err != nil || len(ids) != 1 || ids[0] != "s1" {
			t.Fatalf("List = %v, %v", ids, err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, "s1"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
		}
		if ids, _ := s.List(ctx); len(ids) != 0 {
			t.Errorf("expected no sessions, got %v", ids)
		}
	})

	t.Run("expired records are not listed", func(t *testing.T) {
		if err := s.Save(ctx, &session.Record{ID: "short"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		mr.FastForward(2 * time.Hour)
		if ids, _ := s.List(ctx); len(ids) != 0 {
			t.Errorf("expected expired session to be hidden, got %v", ids)
		}
	})
}
