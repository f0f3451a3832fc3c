// Package mock provides a scripted LLM client for tests and offline runs.
package mock

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/message"
)

// Responder produces the reply to one request.
type Responder func(ctx context.Context, req *agent.GenerateRequest) (*message.Message, error)

// Client answers every request through a Responder and records the requests.
type Client struct {
	respond Responder

	mu    sync.Mutex
	calls []*agent.GenerateRequest
}

// New creates a client. A nil responder echoes the last message.
func New(respond Responder) *Client {
	if respond == nil {
		respond = Echo
	}
	return &Client{respond: respond}
}

// Generate implements agent.LLMClient.
func (c *Client) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.record(req)
	msg, err := c.respond(ctx, req)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("mock: responder returned no message")
	}
	return &agent.GenerateResponse{Message: msg}, nil
}

// Calls returns the recorded requests.
func (c *Client) Calls() []*agent.GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*agent.GenerateRequest(nil), c.calls...)
}

func (c *Client) record(req *agent.GenerateRequest) {
	cloned := &agent.GenerateRequest{
		Model:    req.Model,
		Messages: message.CloneMessages(req.Messages),
		Tools:    req.Tools,
	}
	c.mu.Lock()
	c.calls = append(c.calls, cloned)
	c.mu.Unlock()
}

// StreamClient is a Client that also streams replies in fixed-size chunks.
type StreamClient struct {
	*Client
	chunk int
}

// NewStream creates a streaming client splitting content into chunks of
// chunk runes.
func NewStream(respond Responder, chunk int) *StreamClient {
	if chunk <= 0 {
		chunk = 4
	}
	return &StreamClient{Client: New(respond), chunk: chunk}
}

// GenerateStream implements agent.StreamLLMClient.
func (c *StreamClient) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		resp, err := c.Generate(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		runes := []rune(resp.Message.Content)
		for start := 0; start < len(runes); start += c.chunk {
			end := min(start+c.chunk, len(runes))
			if !yield(&message.Message{Role: message.RoleAssistant, Content: string(runes[start:end])}, nil) {
				return
			}
		}
		final := message.Clone(resp.Message)
		final.Completed = true
		yield(final, nil)
	}
}

// Echo replies with the content of the last message.
func Echo(_ context.Context, req *agent.GenerateRequest) (*message.Message, error) {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return message.NewMessage(message.RoleAssistant, last), nil
}

// Script replies with the given messages in order and fails once exhausted.
func Script(replies ...*message.Message) Responder {
	var (
		mu   sync.Mutex
		next int
	)
	return func(context.Context, *agent.GenerateRequest) (*message.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(replies) {
			return nil, fmt.Errorf("mock: script exhausted after %d replies", len(replies))
		}
		reply := message.Clone(replies[next])
		next++
		return reply, nil
	}
}

// Text is a plain assistant reply.
func Text(content string) *message.Message {
	return message.NewMessage(message.RoleAssistant, content)
}

// ToolCall is an assistant reply requesting one tool call.
func ToolCall(id, name string, args map[string]any) *message.Message {
	return message.NewToolCallMessage([]message.ToolCall{{ID: id, Name: name, Args: args}})
}

// SystemPrompt returns the system instructions of a request.
func SystemPrompt(req *agent.GenerateRequest) string {
	for _, msg := range req.Messages {
		if msg.Role == message.RoleSystem {
			return msg.Content
		}
	}
	return ""
}

// LastUser returns the content of the last user message of a request.
func LastUser(req *agent.GenerateRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == message.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
