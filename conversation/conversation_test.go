package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sweetpotato0/ai-router/errors"
)

func TestDeriveName(t *testing.T) {
	tests := []struct {
		name     string
		given    string
		messages []Entry
		want     string
	}{
		{name: "explicit name wins", given: "Mine", messages: []Entry{{Message: "hello"}}, want: "Mine"},
		{name: "no messages", want: UnnamedConversation},
		{name: "empty first message", messages: []Entry{{Message: ""}}, want: UnnamedConversation},
		{name: "short first message", messages: []Entry{{Message: "hi"}}, want: "hi"},
		{
			name:     "long first message is cut",
			messages: []Entry{{Message: "What movies are playing and what is PowerPlatform licensing?"}},
			want:     "What movies are playing a",
		},
		{
			name:     "cut counts characters not bytes",
			messages: []Entry{{Message: strings.Repeat("é", 30)}},
			want:     strings.Repeat("é", 25),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveName(tt.given, tt.messages); got != tt.want {
				t.Errorf("DeriveName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogAppendIsOrderedAndAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	log := NewLog(store)

	turn1 := []Entry{
		{Role: RoleUser, Message: "first question"},
		{Role: AgentRole("docuAgent"), Message: "docs"},
		{Role: RoleSynthesis, Message: "answer one"},
	}
	turn2 := []Entry{
		{Role: RoleUser, Message: "second question"},
		{Role: RoleSynthesis, Message: "answer two"},
	}
	if err := log.Append(ctx, "c1", turn1...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(ctx, "c1", turn2...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	c, err := log.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := append(append([]Entry{}, turn1...), turn2...)
	if len(c.Messages) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(c.Messages))
	}
	for i := range want {
		if c.Messages[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, c.Messages[i], want[i])
		}
	}
	if c.Name != "first question" {
		t.Errorf("name = %q", c.Name)
	}
	if AgentRole("movieAgent") != "Agent movieAgent" {
		t.Errorf("unexpected agent role %q", AgentRole("movieAgent"))
	}
}

func TestLogGetMissing(t *testing.T) {
	_, err := NewLog(NewMemoryStore()).Get(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type brokenStore struct{ *MemoryStore }

func (brokenStore) Save(context.Context, *Conversation) error { return fmt.Errorf("disk full") }

func TestLogWrapsStoreFailures(t *testing.T) {
	log := NewLog(brokenStore{NewMemoryStore()})
	err := log.Append(context.Background(), "c1", Entry{Role: RoleUser, Message: "x"})
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLogSaveValidatesID(t *testing.T) {
	err := NewLog(NewMemoryStore()).Save(context.Background(), &Conversation{})
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListSummaries(t *testing.T) {
	ctx := context.Background()
	log := NewLog(NewMemoryStore())
	_ = log.Save(ctx, &Conversation{ID: "b", Messages: []Entry{{Role: RoleUser, Message: "beta"}}})
	_ = log.Save(ctx, &Conversation{ID: "a", Name: "Alpha"})

	got, err := log.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0] != (Summary{ID: "a", Name: "Alpha"}) || got[1] != (Summary{ID: "b", Name: "beta"}) {
		t.Errorf("unexpected summaries %+v", got)
	}
}
