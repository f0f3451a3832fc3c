package session_test

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/connection"
	"github.com/sweetpotato0/ai-router/contrib/session/inmemory"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/eventlog"
	"github.com/sweetpotato0/ai-router/session"
)

type fakeCapability struct {
	mu          sync.Mutex
	conns       []agent.Connection
	created     []agent.Definition
	agents      map[string]bool
	threads     map[string]bool
	next        int
	failDeletes bool
}

func newFakeCapability(conns ...agent.Connection) *fakeCapability {
	return &fakeCapability{conns: conns, agents: map[string]bool{}, threads: map[string]bool{}}
}

func (f *fakeCapability) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("thread_%d", f.next)
	f.threads[id] = true
	return id, nil
}

func (f *fakeCapability) DeleteThread(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return fmt.Errorf("capability down")
	}
	delete(f.threads, id)
	return nil
}

func (f *fakeCapability) CreateAgent(_ context.Context, def agent.Definition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("asst_%d", f.next)
	f.agents[id] = true
	f.created = append(f.created, def)
	return id, nil
}

func (f *fakeCapability) DeleteAgent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return fmt.Errorf("capability down")
	}
	delete(f.agents, id)
	return nil
}

func (f *fakeCapability) AddMessage(context.Context, string, string, string) error { return nil }

func (f *fakeCapability) Invoke(context.Context, string, string) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

func (f *fakeCapability) ListConnections(context.Context) ([]agent.Connection, error) {
	return f.conns, nil
}

func (f *fakeCapability) createdNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.created))
	for _, d := range f.created {
		names = append(names, d.Name)
	}
	return names
}

type fakeBuilder struct{}

func (fakeBuilder) Coordinators() (agent.Definition, agent.Definition) {
	return agent.Definition{Name: "CoordinatorRouting", Instructions: "route"},
		agent.Definition{Name: "CoordinatorSynthesis", Instructions: "synthesize"}
}

func (fakeBuilder) Specialist(name string, conns []agent.Connection) (agent.Definition, error) {
	def := agent.Definition{Name: name, Instructions: name}
	if name == session.DocuAgent {
		def.Tools = []agent.ToolBinding{{
			Kind:   agent.ToolKindAzureAISearch,
			Name:   "search",
			Config: map[string]string{agent.ConfigConnectionID: connection.ResolveSearch(conns)},
		}}
	}
	return def, nil
}

type failingStore struct {
	session.Store
	failSave   bool
	failDelete bool
}

func (s *failingStore) Save(ctx context.Context, r *session.Record) error {
	if s.failSave {
		return fmt.Errorf("store down")
	}
	return s.Store.Save(ctx, r)
}

func (s *failingStore) Delete(ctx context.Context, id string) error {
	if s.failDelete {
		return fmt.Errorf("store down")
	}
	return s.Store.Delete(ctx, id)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	capability := newFakeCapability()
	events := eventlog.New()
	m := session.NewManager(capability, inmemory.NewInMemoryStore(), fakeBuilder{}, session.WithEvents(events))

	first, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.ThreadID == "" || first.RoutingAgentID == "" || first.SynthesisAgentID == "" {
		t.Fatalf("incomplete record %+v", first)
	}
	if first.DocuAgentID != nil || first.MovieAgentID != nil {
		t.Errorf("specialists must start unset: %+v", first)
	}

	second, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second.ThreadID != first.ThreadID || second.RoutingAgentID != first.RoutingAgentID {
		t.Errorf("existing session was not returned unchanged")
	}
	if got := capability.createdNames(); len(got) != 2 {
		t.Errorf("expected 2 agents created, got %v", got)
	}
	if evs := events.Events(); len(evs) != 1 || evs[0].Event != eventlog.ThreadCreated {
		t.Errorf("unexpected events %+v", evs)
	}

	if _, err := m.GetOrCreate(ctx, " "); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank id, got %v", err)
	}
}

func TestGetOrCreateReleasesHandlesWhenSaveFails(t *testing.T) {
	capability := newFakeCapability()
	store := &failingStore{Store: inmemory.NewInMemoryStore(), failSave: true}
	m := session.NewManager(capability, store, fakeBuilder{})

	_, err := m.GetOrCreate(context.Background(), "s1")
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(capability.agents) != 0 || len(capability.threads) != 0 {
		t.Errorf("handles leaked: %d agents, %d threads", len(capability.agents), len(capability.threads))
	}
}

func TestEnsureSpecialistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	capability := newFakeCapability()
	store := inmemory.NewInMemoryStore()
	m := session.NewManager(capability, store, fakeBuilder{})

	rec, _ := m.GetOrCreate(ctx, "s1")
	first, err := m.EnsureSpecialist(ctx, rec, session.MovieAgent)
	if err != nil {
		t.Fatalf("EnsureSpecialist failed: %v", err)
	}
	second, err := m.EnsureSpecialist(ctx, rec, session.MovieAgent)
	if err != nil {
		t.Fatalf("second EnsureSpecialist failed: %v", err)
	}
	if first != second {
		t.Errorf("handles differ: %s vs %s", first, second)
	}

	count := 0
	for _, name := range capability.createdNames() {
		if name == session.MovieAgent {
			count++
		}
	}
	if count != 1 {
		t.Errorf("movieAgent created %d times, want 1", count)
	}

	stored, _ := store.Load(ctx, "s1")
	if id, ok := stored.Specialist(session.MovieAgent); !ok || id != first {
		t.Errorf("specialist not persisted: %q, %v", id, ok)
	}

	if _, err := m.EnsureSpecialist(ctx, rec, "ghostAgent"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown specialist, got %v", err)
	}
}

func TestEnsureSpecialistDegradedSearch(t *testing.T) {
	ctx := context.Background()
	capability := newFakeCapability()
	events := eventlog.New()
	m := session.NewManager(capability, inmemory.NewInMemoryStore(), fakeBuilder{}, session.WithEvents(events))

	rec, _ := m.GetOrCreate(ctx, "s1")
	if _, err := m.EnsureSpecialist(ctx, rec, session.DocuAgent); err != nil {
		t.Fatalf("docuAgent must be created without a search connection: %v", err)
	}

	degraded := false
	for _, ev := range events.Events() {
		if ev.Event == eventlog.SearchDegraded {
			degraded = true
		}
	}
	if !degraded {
		t.Error("expected a search degraded event")
	}
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("releases handles and is idempotent", func(t *testing.T) {
		capability := newFakeCapability()
		m := session.NewManager(capability, inmemory.NewInMemoryStore(), fakeBuilder{})
		rec, _ := m.GetOrCreate(ctx, "s1")
		if _, err := m.EnsureSpecialist(ctx, rec, session.DocuAgent); err != nil {
			t.Fatalf("EnsureSpecialist failed: %v", err)
		}

		ended, err := m.End(ctx, "s1")
		if err != nil || !ended {
			t.Fatalf("End = %v, %v", ended, err)
		}
		if len(capability.agents) != 0 || len(capability.threads) != 0 {
			t.Errorf("handles leaked: %d agents, %d threads", len(capability.agents), len(capability.threads))
		}

		ended, err = m.End(ctx, "s1")
		if err != nil || ended {
			t.Errorf("second End = %v, %v; want false, nil", ended, err)
		}
	})

	t.Run("concurrent ends never fail", func(t *testing.T) {
		m := session.NewManager(newFakeCapability(), inmemory.NewInMemoryStore(), fakeBuilder{})
		if _, err := m.GetOrCreate(ctx, "s2"); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.End(ctx, "s2"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("End failed: %v", err)
		}
	})

	t.Run("release failures are best effort", func(t *testing.T) {
		capability := newFakeCapability()
		store := inmemory.NewInMemoryStore()
		m := session.NewManager(capability, store, fakeBuilder{})
		if _, err := m.GetOrCreate(ctx, "s3"); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		capability.failDeletes = true

		ended, err := m.End(ctx, "s3")
		if err != nil || !ended {
			t.Fatalf("End = %v, %v", ended, err)
		}
		if _, err := store.Load(ctx, "s3"); !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("record should be deleted, got %v", err)
		}
	})

	t.Run("record delete failure is reported", func(t *testing.T) {
		store := &failingStore{Store: inmemory.NewInMemoryStore()}
		m := session.NewManager(newFakeCapability(), store, fakeBuilder{})
		if _, err := m.GetOrCreate(ctx, "s4"); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		store.failDelete = true
		if _, err := m.End(ctx, "s4"); !errors.Is(err, errors.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	capability := newFakeCapability()
	events := eventlog.New()
	m := session.NewManager(capability, inmemory.NewInMemoryStore(), fakeBuilder{}, session.WithEvents(events))

	if err := m.Reset(ctx, "missing"); err != nil {
		t.Fatalf("Reset of an unknown session = %v", err)
	}

	first, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := m.Reset(ctx, "s1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(capability.agents) != 0 || len(capability.threads) != 0 {
		t.Errorf("handles leaked: %d agents, %d threads", len(capability.agents), len(capability.threads))
	}

	second, err := m.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate after Reset failed: %v", err)
	}
	if second.ThreadID == first.ThreadID {
		t.Errorf("Reset should force a new thread, kept %s", first.ThreadID)
	}

	var reset bool
	for _, ev := range events.Events() {
		reset = reset || ev.Event == eventlog.SessionReset
	}
	if !reset {
		t.Error("Reset should be recorded in the event log")
	}
}
