package agent

import (
	"context"
	"iter"
	"strings"

	"github.com/sweetpotato0/ai-router/message"
)

// Collect drains a fragment stream and concatenates the fragments in emission
// order. The first error stops collection.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for fragment, err := range seq {
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// Ask appends content as a user turn for agentID and collects the agent's reply.
func Ask(ctx context.Context, c Capability, threadID, agentID, content string) (string, error) {
	if err := c.AddMessage(ctx, threadID, agentID, content); err != nil {
		return "", err
	}
	return Collect(c.Invoke(ctx, threadID, agentID))
}

// LLMClient defines the interface for LLM providers
type LLMClient interface {
	// Generate generates a response from the LLM
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// StreamLLMClient defines the interface for LLM providers that support streaming.
// Partial messages carry content deltas; the last message has Completed set
// and holds the full content plus any tool calls.
type StreamLLMClient interface {
	LLMClient
	// GenerateStream generates a response with token streaming
	GenerateStream(ctx context.Context, req *GenerateRequest) iter.Seq2[*message.Message, error]
}

// GenerateRequest bundles inputs for an LLM invocation.
type GenerateRequest struct {
	Model    string
	Messages []*message.Message
	Tools    []map[string]any
}

// GenerateResponse captures the LLM reply for non-streaming calls.
type GenerateResponse struct {
	Message *message.Message
}
