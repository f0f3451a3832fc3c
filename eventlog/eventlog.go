// Package eventlog keeps the process-local diagnostic record of the router:
// lifecycle events and a mirror of the transcript entries written by this
// process. It is reset on restart and is never the system of record.
package eventlog

import (
	"sync"
	"time"
)

// Event names.
const (
	ThreadCreated      = "Thread Created"
	RoutingDecision    = "Routing Decision"
	SpecialistResponse = "Specialist Response"
	UnknownSpecialist  = "Unknown Specialist"
	SearchDegraded     = "Search Degraded"
	SynthesisResponse  = "Synthesis Response"
	SessionEnded       = "Session Ended"
	SessionReset       = "Session Reset"
	PersistenceFailed  = "Persistence Failed"
)

// DefaultLimit bounds each list; the oldest entries are dropped first.
const DefaultLimit = 1000

// Event is one diagnostic record.
type Event struct {
	Event     string    `json:"event"`
	Details   string    `json:"details"`
	SessionID string    `json:"session_id,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
	Time      time.Time `json:"time"`
}

// Entry mirrors one transcript entry.
type Entry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	Count(text string) int
}

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	events  []Event
	history []Entry
	limit   int
	counter TokenCounter
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithLimit sets the maximum number of retained events and history entries.
// A non-positive limit keeps everything.
func WithLimit(n int) Option {
	return func(l *Log) {
		l.limit = n
	}
}

// WithTokenCounter attaches token counts to events recorded with RecordText.
func WithTokenCounter(c TokenCounter) Option {
	return func(l *Log) {
		l.counter = c
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{limit: DefaultLimit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an event.
func (l *Log) Record(sessionID, event, details string) {
	l.add(Event{Event: event, Details: details, SessionID: sessionID})
}

// RecordText appends an event whose details are model text, counting its
// tokens when a counter is configured.
func (l *Log) RecordText(sessionID, event, text string) {
	if l == nil {
		return
	}
	ev := Event{Event: event, Details: text, SessionID: sessionID}
	if l.counter != nil {
		ev.Tokens = l.counter.Count(text)
	}
	l.add(ev)
}

func (l *Log) add(ev Event) {
	if l == nil {
		return
	}
	ev.Time = l.now()
	l.mu.Lock()
	l.events = trim(append(l.events, ev), l.limit)
	l.mu.Unlock()
}

// AppendHistory mirrors transcript entries.
func (l *Log) AppendHistory(entries ...Entry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.history = trim(append(l.history, entries...), l.limit)
	l.mu.Unlock()
}

// Events returns a copy of the events in record order.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event{}, l.events...)
}

// History returns a copy of the history in append order.
func (l *Log) History() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry{}, l.history...)
}

func trim[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return append(items[:0:0], items[len(items)-limit:]...)
}
