package router

import (
	"encoding/json"
)

// Response is one specialist reply.
type Response struct {
	Name  string
	Reply string
}

// Responses holds specialist replies in delegation order.
type Responses []Response

// MarshalJSON writes the replies as an object, keeping delegation order.
func (r Responses) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(r))
	for _, resp := range r {
		pairs = append(pairs, [2]string{resp.Name, resp.Reply})
	}
	return marshalOrdered(pairs)
}

// Get returns the reply of the named specialist.
func (r Responses) Get(name string) (string, bool) {
	for _, resp := range r {
		if resp.Name == name {
			return resp.Reply, true
		}
	}
	return "", false
}

type synthesisInput struct {
	UserQuery      string    `json:"user_query"`
	AgentResponses Responses `json:"agent_responses"`
}

// SynthesisPayload renders the synthesis coordinator's input:
// user_query first, then agent_responses in delegation order.
func SynthesisPayload(userQuery string, responses Responses) (string, error) {
	if responses == nil {
		responses = Responses{}
	}
	raw, err := json.MarshalIndent(synthesisInput{UserQuery: userQuery, AgentResponses: responses}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
