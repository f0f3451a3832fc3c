package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/contrib/provider/mock"
	"github.com/sweetpotato0/ai-router/contrib/session/inmemory"
	"github.com/sweetpotato0/ai-router/conversation"
	"github.com/sweetpotato0/ai-router/errors"
	"github.com/sweetpotato0/ai-router/eventlog"
	"github.com/sweetpotato0/ai-router/message"
	"github.com/sweetpotato0/ai-router/middleware"
	"github.com/sweetpotato0/ai-router/middleware/enricher"
	"github.com/sweetpotato0/ai-router/middleware/errorhandler"
	"github.com/sweetpotato0/ai-router/middleware/validator"
	"github.com/sweetpotato0/ai-router/runtime"
	"github.com/sweetpotato0/ai-router/session"
	"github.com/sweetpotato0/ai-router/tool/search"
)

const cinemasSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Cinemas", "version": "1.0"},
  "servers": [{"url": "http://127.0.0.1:1"}],
  "paths": {
    "/movies": {"get": {"operationId": "listMovies", "summary": "List movies"}}
  }
}`

type harness struct {
	llm         *mock.StreamClient
	sessions    *session.Manager
	records     *inmemory.InMemoryStore
	transcripts *conversation.Log
	events      *eventlog.Log
	builder     *Specialists
	router      *Router
}

func newHarness(t *testing.T, respond mock.Responder, opts ...Option) *harness {
	t.Helper()
	specPath := filepath.Join(t.TempDir(), "cinemasapi.json")
	if err := os.WriteFile(specPath, []byte(cinemasSpec), 0o600); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		llm:         mock.NewStream(respond, 4),
		records:     inmemory.NewInMemoryStore(),
		transcripts: conversation.NewLog(conversation.NewMemoryStore()),
		events:      eventlog.New(),
	}
	rt, err := runtime.New(h.llm)
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}
	h.builder = NewSpecialists(SpecialistConfig{Model: "test-model", IndexName: "licensing", CinemasSpec: specPath})
	h.sessions = session.NewManager(rt, h.records, h.builder, session.WithEvents(h.events))
	h.router = New(rt, h.sessions, h.transcripts, append([]Option{WithEventLog(h.events)}, opts...)...)
	return h
}

// agents answers as each coordinator and specialist would, keyed on the
// instructions the runtime sends as the system prompt.
func agents(routing string) mock.Responder {
	return func(_ context.Context, req *agent.GenerateRequest) (*message.Message, error) {
		system := mock.SystemPrompt(req)
		last := req.Messages[len(req.Messages)-1]
		switch {
		case strings.Contains(system, "routing coordinator"):
			return mock.Text(routing), nil
		case strings.Contains(system, "synthesis coordinator"):
			return mock.Text("## Answer\n" + mock.LastUser(req)), nil
		case strings.Contains(system, "Microsoft Licensing"):
			if last.Role == message.RoleTool {
				return mock.Text("docu: " + last.Content), nil
			}
			return mock.ToolCall("call_1", SearchToolName, map[string]any{"query": mock.LastUser(req)}), nil
		case strings.Contains(system, "cinema information"):
			return mock.Text("movies: " + mock.LastUser(req)), nil
		}
		return nil, fmt.Errorf("unexpected agent %q", system)
	}
}

func (h *harness) record(t *testing.T, id string) *session.Record {
	t.Helper()
	rec, err := h.records.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return rec
}

func (h *harness) transcript(t *testing.T, id string) []conversation.Entry {
	t.Helper()
	c, err := h.transcripts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load transcript: %v", err)
	}
	return c.Messages
}

func TestHandleTurnBothSpecialists(t *testing.T) {
	h := newHarness(t, agents(`{"movieAgent": "current movies", "docuAgent": "PowerPlatform licensing"}`))
	ctx := context.Background()

	result, err := h.router.HandleTurn(ctx, "s1", "What movies are playing and what is PowerPlatform licensing?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if result.PersistErr != nil {
		t.Fatalf("unexpected persist error: %v", result.PersistErr)
	}

	if len(result.Responses) != 2 || result.Responses[0].Name != session.MovieAgent || result.Responses[1].Name != session.DocuAgent {
		t.Fatalf("unexpected responses %+v", result.Responses)
	}
	if result.Responses[0].Reply != "movies: current movies" {
		t.Errorf("movie reply = %q", result.Responses[0].Reply)
	}
	if result.Responses[1].Reply != "docu: "+search.NoResults {
		t.Errorf("docu reply = %q", result.Responses[1].Reply)
	}

	payload, _ := SynthesisPayload("What movies are playing and what is PowerPlatform licensing?", result.Responses)
	if result.Answer != "## Answer\n"+payload {
		t.Errorf("synthesis did not receive the ordered payload:\n%s", result.Answer)
	}

	entries := h.transcript(t, "s1")
	wantRoles := []string{"User", "Agent movieAgent", "Agent docuAgent", "Agent CoordinatorSynthesis"}
	if len(entries) != len(wantRoles) {
		t.Fatalf("unexpected transcript %+v", entries)
	}
	for i, role := range wantRoles {
		if entries[i].Role != role {
			t.Errorf("entry %d role = %q, want %q", i, entries[i].Role, role)
		}
	}
	if entries[3].Message != result.Answer {
		t.Error("transcript does not hold the final answer verbatim")
	}

	rec := h.record(t, "s1")
	if rec.DocuAgentID == nil || rec.MovieAgentID == nil {
		t.Errorf("expected both specialists to be recorded, got %+v", rec)
	}

	events := h.events.Events()
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{eventlog.ThreadCreated, eventlog.RoutingDecision, eventlog.SearchDegraded, eventlog.SpecialistResponse, eventlog.SynthesisResponse} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing event %q in %s", want, joined)
		}
	}
	if got := len(h.events.History()); got != 4 {
		t.Errorf("history mirror has %d entries, want 4", got)
	}
}

func TestHandleTurnEmptyPlan(t *testing.T) {
	h := newHarness(t, agents(`{}`))

	result, err := h.router.HandleTurn(context.Background(), "s1", "Tell me a joke")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if len(result.Responses) != 0 {
		t.Errorf("expected no responses, got %+v", result.Responses)
	}
	payload, _ := SynthesisPayload("Tell me a joke", nil)
	if result.Answer != "## Answer\n"+payload {
		t.Errorf("unexpected answer %q", result.Answer)
	}

	rec := h.record(t, "s1")
	if rec.DocuAgentID != nil || rec.MovieAgentID != nil {
		t.Errorf("no specialist should be created, got %+v", rec)
	}
	for _, call := range h.llm.Calls() {
		system := mock.SystemPrompt(call)
		if strings.Contains(system, "Microsoft Licensing") || strings.Contains(system, "cinema information") {
			t.Fatalf("specialist invoked on an empty plan")
		}
	}
	if got := len(h.transcript(t, "s1")); got != 2 {
		t.Errorf("transcript has %d entries, want 2", got)
	}
}

func TestHandleTurnSkipsUnknownSpecialist(t *testing.T) {
	h := newHarness(t, agents(`{"docuAgent": "q1", "ghostAgent": "q2"}`))

	result, err := h.router.HandleTurn(context.Background(), "s1", "licensing?")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if len(result.Responses) != 1 || result.Responses[0].Name != session.DocuAgent {
		t.Fatalf("unexpected responses %+v", result.Responses)
	}
	if _, ok := result.Responses.Get("ghostAgent"); ok {
		t.Error("ghostAgent must not answer")
	}

	found := false
	for _, ev := range h.events.Events() {
		if ev.Event == eventlog.UnknownSpecialist && strings.Contains(ev.Details, "ghostAgent") {
			found = true
		}
	}
	if !found {
		t.Error("unknown specialist was not recorded")
	}
}

func TestHandleTurnProtocolError(t *testing.T) {
	t.Run("strict fails the turn", func(t *testing.T) {
		h := newHarness(t, agents(`Sure, ask the movie agent.`))
		_, err := h.router.HandleTurn(context.Background(), "s1", "movies?")
		if !errors.Is(err, errors.ErrProtocol) {
			t.Fatalf("expected ErrProtocol, got %v", err)
		}
		if _, err := h.transcripts.Get(context.Background(), "s1"); !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("failed turn must not be recorded, got %v", err)
		}
		for _, call := range h.llm.Calls() {
			if strings.Contains(mock.SystemPrompt(call), "synthesis coordinator") {
				t.Fatal("synthesis must not run after a protocol error")
			}
		}
	})

	t.Run("lenient skips delegation", func(t *testing.T) {
		h := newHarness(t, agents(`["movieAgent"]`), WithLenientRouting(true))
		result, err := h.router.HandleTurn(context.Background(), "s1", "movies?")
		if err != nil {
			t.Fatalf("HandleTurn failed: %v", err)
		}
		if len(result.Responses) != 0 || result.Answer == "" {
			t.Errorf("unexpected result %+v", result)
		}
	})
}

func TestHandleTurnRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, agents(`{}`))
	for _, msg := range []string{"", "   \n\t"} {
		_, err := h.router.HandleTurn(context.Background(), "s1", msg)
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("HandleTurn(%q) = %v, want ErrInvalidInput", msg, err)
		}
	}
	if n := len(h.llm.Calls()); n != 0 {
		t.Errorf("expected no agent interaction, got %d calls", n)
	}
	if _, err := h.records.Load(context.Background(), "s1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("no session should be created, got %v", err)
	}
}

func TestHandleTurnAppendsAcrossTurns(t *testing.T) {
	h := newHarness(t, agents(`{"movieAgent": "current movies"}`))
	ctx := context.Background()

	if _, err := h.router.HandleTurn(ctx, "s1", "first"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	first := h.transcript(t, "s1")
	movieID := *h.record(t, "s1").MovieAgentID

	if _, err := h.router.HandleTurn(ctx, "s1", "second"); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	all := h.transcript(t, "s1")
	if len(all) != 2*len(first) {
		t.Fatalf("expected %d entries, got %d", 2*len(first), len(all))
	}
	for i := range first {
		if all[i] != first[i] {
			t.Errorf("entry %d changed: %+v -> %+v", i, first[i], all[i])
		}
	}
	if all[len(first)].Message != "second" {
		t.Errorf("second turn should start with the user message, got %+v", all[len(first)])
	}
	if got := *h.record(t, "s1").MovieAgentID; got != movieID {
		t.Errorf("movie agent recreated: %s -> %s", movieID, got)
	}
}

type failingTranscripts struct{ *conversation.MemoryStore }

func (failingTranscripts) Save(context.Context, *conversation.Conversation) error {
	return fmt.Errorf("connection refused")
}

func TestHandleTurnReturnsAnswerWhenPersistFails(t *testing.T) {
	h := newHarness(t, agents(`{}`))
	h.router.transcripts = conversation.NewLog(failingTranscripts{conversation.NewMemoryStore()})

	result, err := h.router.HandleTurn(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if result.Answer == "" {
		t.Error("answer should still be returned")
	}
	if !errors.Is(result.PersistErr, errors.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable persist error, got %v", result.PersistErr)
	}
	found := false
	for _, ev := range h.events.Events() {
		found = found || ev.Event == eventlog.PersistenceFailed
	}
	if !found {
		t.Error("persistence failure was not recorded")
	}
}

func TestHandleTurnSerialisesSession(t *testing.T) {
	h := newHarness(t, agents(`{}`))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.router.HandleTurn(ctx, "s1", fmt.Sprintf("question %d", i)); err != nil {
				t.Errorf("turn %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	entries := h.transcript(t, "s1")
	if len(entries) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(entries))
	}
	for i := 0; i < len(entries); i += 2 {
		user, answer := entries[i], entries[i+1]
		if user.Role != conversation.RoleUser || answer.Role != conversation.RoleSynthesis {
			t.Fatalf("turns interleaved at %d: %+v %+v", i, user, answer)
		}
		if !strings.Contains(answer.Message, user.Message) {
			t.Errorf("answer at %d does not belong to %q", i+1, user.Message)
		}
	}
}

func TestEndSession(t *testing.T) {
	h := newHarness(t, agents(`{"docuAgent": "q"}`))
	ctx := context.Background()

	if _, err := h.router.HandleTurn(ctx, "s1", "licensing?"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	ended, err := h.router.EndSession(ctx, "s1")
	if err != nil || !ended {
		t.Fatalf("EndSession = %v, %v", ended, err)
	}
	ended, err = h.router.EndSession(ctx, "s1")
	if err != nil || ended {
		t.Fatalf("second EndSession = %v, %v", ended, err)
	}
	if _, err := h.records.Load(ctx, "s1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("session record should be gone, got %v", err)
	}
	if got := len(h.transcript(t, "s1")); got != 3 {
		t.Errorf("transcript must survive the session, has %d entries", got)
	}
}

// restart rebuilds the runtime and router over the same session records and
// transcripts, as a process restart with an in-memory runtime would.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	rt, err := runtime.New(h.llm)
	if err != nil {
		t.Fatalf("runtime.New failed: %v", err)
	}
	h.sessions = session.NewManager(rt, h.records, h.builder, session.WithEvents(h.events))
	h.router = New(rt, h.sessions, h.transcripts, WithEventLog(h.events))
}

func TestHandleTurnRecreatesStaleSession(t *testing.T) {
	h := newHarness(t, agents(`{"movieAgent": "current movies"}`))
	ctx := context.Background()

	if _, err := h.router.HandleTurn(ctx, "s1", "first"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	stale := h.record(t, "s1")

	h.restart(t)

	result, err := h.router.HandleTurn(ctx, "s1", "second")
	if err != nil {
		t.Fatalf("turn after restart failed: %v", err)
	}
	if result.Answer != "## Answer\n"+mustPayload(t, "second", result.Responses) {
		t.Errorf("unexpected answer %q", result.Answer)
	}

	fresh := h.record(t, "s1")
	if fresh.ThreadID == stale.ThreadID || fresh.RoutingAgentID == stale.RoutingAgentID {
		t.Errorf("stale handles kept: %+v", fresh)
	}
	if fresh.MovieAgentID == nil || *fresh.MovieAgentID == *stale.MovieAgentID {
		t.Errorf("movie agent should be recreated in the new runtime: %+v", fresh)
	}

	entries := h.transcript(t, "s1")
	if len(entries) != 6 || entries[3].Message != "second" {
		t.Errorf("transcript should hold both turns in order, got %+v", entries)
	}

	reset := 0
	for _, ev := range h.events.Events() {
		if ev.Event == eventlog.SessionReset && ev.SessionID == "s1" {
			reset++
		}
	}
	if reset != 1 {
		t.Errorf("expected one %q event, got %d", eventlog.SessionReset, reset)
	}

	if _, err := h.router.HandleTurn(ctx, "s1", "third"); err != nil {
		t.Fatalf("turn 3 failed: %v", err)
	}
	if got := h.record(t, "s1").ThreadID; got != fresh.ThreadID {
		t.Errorf("healthy session must keep its thread: %s -> %s", fresh.ThreadID, got)
	}
}

func mustPayload(t *testing.T, query string, responses Responses) string {
	t.Helper()
	payload, err := SynthesisPayload(query, responses)
	if err != nil {
		t.Fatalf("SynthesisPayload: %v", err)
	}
	return payload
}

func TestHandleTurnRunsMiddleware(t *testing.T) {
	var seen *middleware.Context
	observe := enricher.NewContextEnricher(func(c *middleware.Context) error {
		seen = c
		return nil
	})
	chain := middleware.NewChain(
		errorhandler.NewErrorHandler(errorhandler.Classify),
		enricher.NewContextEnricher(enricher.TurnID),
		validator.NewInputValidator(validator.NonEmpty, validator.MaxLength(20)),
		observe,
	)
	h := newHarness(t, agents(`{}`), WithMiddleware(chain))
	ctx := context.Background()

	if _, err := h.router.HandleTurn(ctx, "s1", strings.Repeat("x", 21)); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(h.llm.Calls()) != 0 {
		t.Fatal("rejected input reached an agent")
	}

	result, err := h.router.HandleTurn(ctx, "s1", "short question")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if seen == nil || seen.Answer != result.Answer || seen.Metadata[enricher.TurnIDKey] == nil {
		t.Errorf("middleware did not observe the completed turn: %+v", seen)
	}
}
