package connection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sweetpotato0/ai-router/agent"
)

func TestResolveSearch(t *testing.T) {
	tests := []struct {
		name  string
		conns []agent.Connection
		want  string
	}{
		{name: "empty", want: ""},
		{
			name: "no search connection",
			conns: []agent.Connection{
				{ID: "blob", Metadata: map[string]string{"type": "AZURE_BLOB"}},
			},
			want: "",
		},
		{
			name: "first match wins",
			conns: []agent.Connection{
				{ID: "blob", Metadata: map[string]string{"type": "AZURE_BLOB"}},
				{ID: "search-1", Metadata: map[string]string{"type": "azure_ai_search"}},
				{ID: "search-2", Metadata: map[string]string{"type": "AZURE_AI_SEARCH"}},
			},
			want: "search-1",
		},
		{
			name:  "missing metadata",
			conns: []agent.Connection{{ID: "bare"}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveSearch(tt.conns); got != tt.want {
				t.Errorf("ResolveSearch() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileRegistry(t *testing.T) {
	t.Setenv("TEST_SEARCH_KEY", "secret")
	path := filepath.Join(t.TempDir(), "connections.yaml")
	doc := `connections:
  - id: search
    name: docs-search
    target: https://search.example.com
    key: ${TEST_SEARCH_KEY}
    metadata:
      type: AZURE_AI_SEARCH
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	conns, err := NewFileRegistry(path).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	if conns[0].Key != "secret" {
		t.Errorf("key not expanded: %q", conns[0].Key)
	}
	if ResolveSearch(conns) != "search" {
		t.Error("expected search connection to resolve")
	}
	if c, ok := Find(conns, "search"); !ok || c.Target != "https://search.example.com" {
		t.Errorf("Find returned %+v, %v", c, ok)
	}
}

func TestFileRegistryMissingFile(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := r.List(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseRequiresID(t *testing.T) {
	if _, err := Parse([]byte("connections:\n  - name: nameless\n")); err == nil {
		t.Error("expected error for connection without id")
	}
}
