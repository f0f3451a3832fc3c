// Package session owns the lifecycle of a routed conversation: one shared
// thread, two coordinator agents created up front and specialist agents
// created on first use.
package session

import (
	"context"
	"fmt"
	"time"
)

// Specialist names.
const (
	DocuAgent  = "docuAgent"
	MovieAgent = "movieAgent"
)

// Specialists is the closed set of specialist names, in a stable order.
var Specialists = []string{DocuAgent, MovieAgent}

// IsSpecialist reports whether name is a known specialist.
func IsSpecialist(name string) bool {
	for _, s := range Specialists {
		if s == name {
			return true
		}
	}
	return false
}

// Record is the persisted state of a session. Its handles belong to exactly
// one session.
type Record struct {
	ID               string    `json:"id" bson:"_id"`
	ThreadID         string    `json:"thread_id" bson:"thread_id"`
	RoutingAgentID   string    `json:"routing_agent_id" bson:"routing_agent_id"`
	SynthesisAgentID string    `json:"synthesis_agent_id" bson:"synthesis_agent_id"`
	DocuAgentID      *string   `json:"docu_agent_id" bson:"docu_agent_id"`
	MovieAgentID     *string   `json:"movie_agent_id" bson:"movie_agent_id"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.DocuAgentID = cloneString(r.DocuAgentID)
	cloned.MovieAgentID = cloneString(r.MovieAgentID)
	return &cloned
}

// Specialist returns the handle of the named specialist, if created.
func (r *Record) Specialist(name string) (string, bool) {
	var id *string
	switch name {
	case DocuAgent:
		id = r.DocuAgentID
	case MovieAgent:
		id = r.MovieAgentID
	}
	if id == nil || *id == "" {
		return "", false
	}
	return *id, true
}

// SetSpecialist stores the handle of the named specialist.
func (r *Record) SetSpecialist(name, agentID string) error {
	switch name {
	case DocuAgent:
		r.DocuAgentID = &agentID
	case MovieAgent:
		r.MovieAgentID = &agentID
	default:
		return fmt.Errorf("session: unknown specialist %q", name)
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// AgentIDs returns every agent handle of the session, specialists first.
func (r *Record) AgentIDs() []string {
	var ids []string
	for _, name := range Specialists {
		if id, ok := r.Specialist(name); ok {
			ids = append(ids, id)
		}
	}
	for _, id := range []string{r.RoutingAgentID, r.SynthesisAgentID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Store persists session records.
type Store interface {
	// Load returns errors.ErrNotFound when the session does not exist.
	Load(ctx context.Context, id string) (*Record, error)
	// Save inserts or replaces the record.
	Save(ctx context.Context, record *Record) error
	// Delete removes the record; deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
