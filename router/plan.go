package router

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sweetpotato0/ai-router/errors"
)

// PlanEntry assigns a sub-query to a specialist.
type PlanEntry struct {
	Name  string
	Query string
}

// Plan is a delegation plan in the order the routing agent emitted it.
type Plan []PlanEntry

// Names returns the specialist names of the plan in order.
func (p Plan) Names() []string {
	names := make([]string, 0, len(p))
	for _, e := range p {
		names = append(names, e.Name)
	}
	return names
}

// MarshalJSON writes the plan as an object, keeping entry order.
func (p Plan) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(p))
	for _, e := range p {
		pairs = append(pairs, [2]string{e.Name, e.Query})
	}
	return marshalOrdered(pairs)
}

// ProtocolError reports routing output that is not a JSON object of strings.
type ProtocolError struct {
	Output string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("routing output is not a JSON object of strings: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return errors.ErrProtocol
}

// ParsePlan parses routing output strictly. Surrounding whitespace is allowed,
// anything else outside the object is not. Duplicate keys keep the position of
// their first occurrence and the value of their last.
func ParsePlan(output string) (Plan, error) {
	fail := func(format string, args ...any) (Plan, error) {
		return nil, &ProtocolError{Output: output, Reason: fmt.Sprintf(format, args...)}
	}

	dec := json.NewDecoder(strings.NewReader(output))
	tok, err := dec.Token()
	if err != nil {
		return fail("%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fail("expected an object, got %v", tok)
	}

	plan := Plan{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fail("%v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fail("expected a key, got %v", tok)
		}
		tok, err = dec.Token()
		if err != nil {
			return fail("%v", err)
		}
		value, ok := tok.(string)
		if !ok {
			return fail("value of %q is not a string", key)
		}
		if i, seen := index[key]; seen {
			plan[i].Query = value
			continue
		}
		index[key] = len(plan)
		plan = append(plan, PlanEntry{Name: key, Query: value})
	}
	if tok, err := dec.Token(); err != nil {
		return fail("%v", err)
	} else if d, ok := tok.(json.Delim); !ok || d != '}' {
		return fail("unterminated object")
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err != nil {
			return fail("trailing data: %v", err)
		}
		return fail("trailing data: %v", tok)
	}
	return plan, nil
}

func marshalOrdered(pairs [][2]string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(kv[0])
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv[1])
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
