package gemini

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/message"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:    apiKey,
		Model:     "gemini-1.5-flash",
		MaxTokens: 2048,
	}
}

// Provider implements agent.StreamLLMClient for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

var _ agent.StreamLLMClient = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	var final *message.Message
	for msg, err := range p.GenerateStream(ctx, req) {
		if err != nil {
			return nil, err
		}
		if msg.Completed {
			final = msg
		}
	}
	if final == nil {
		return nil, fmt.Errorf("gemini returned no response")
	}
	return &agent.GenerateResponse{Message: final}, nil
}

// GenerateStream implements agent.StreamLLMClient.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("generate request cannot be nil"))
			return
		}

		model := p.model(req)
		history, last, err := convertMessages(req.Messages, model)
		if err != nil {
			yield(nil, err)
			return
		}
		if last == nil {
			yield(nil, fmt.Errorf("gemini request has no user turn"))
			return
		}

		chat := model.StartChat()
		chat.History = history
		it := chat.SendMessageStream(ctx, last.Parts...)

		var (
			text  strings.Builder
			calls []message.ToolCall
		)
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("Gemini streaming error: %w", err))
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch v := part.(type) {
					case genai.Text:
						text.WriteString(string(v))
						if !yield(&message.Message{Role: message.RoleAssistant, Content: string(v)}, nil) {
							return
						}
					case genai.FunctionCall:
						calls = append(calls, message.ToolCall{
							ID:   fmt.Sprintf("call_%d", len(calls)+1),
							Name: v.Name,
							Args: v.Args,
						})
					}
				}
			}
		}

		final := message.NewMessage(message.RoleAssistant, text.String())
		final.ToolCalls = calls
		final.Completed = true
		yield(final, nil)
	}
}

func (p *Provider) model(req *agent.GenerateRequest) *genai.GenerativeModel {
	name := req.Model
	if name == "" {
		name = p.config.Model
	}
	model := p.client.GenerativeModel(name)
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if decls := functionDeclarations(req.Tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return model
}

// convertMessages splits the request into chat history and the turn to send.
// System messages become the model's system instruction.
func convertMessages(msgs []*message.Message, model *genai.GenerativeModel) ([]*genai.Content, *genai.Content, error) {
	var (
		system   []string
		contents []*genai.Content
		names    = make(map[string]string)
	)
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			system = append(system, msg.Content)
		case message.RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case message.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				names[tc.ID] = tc.Name
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case message.RoleTool:
			name, ok := names[msg.ToolID]
			if !ok {
				return nil, nil, fmt.Errorf("tool response %s has no matching call", msg.ToolID)
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{
				genai.FunctionResponse{Name: name, Response: map[string]any{"result": msg.Content}},
			}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n")))
	}
	if len(contents) == 0 {
		return nil, nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1], nil
}

func functionDeclarations(schemas []map[string]any) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, schema := range schemas {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		decl := &genai.FunctionDeclaration{Name: name, Description: desc}
		if params, ok := fn["parameters"].(map[string]any); ok {
			decl.Parameters = convertSchema(params)
		}
		decls = append(decls, decl)
	}
	return decls
}

func convertSchema(params map[string]any) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject, Properties: make(map[string]*genai.Schema)}
	if props, ok := params["properties"].(map[string]any); ok {
		for name, raw := range props {
			prop, _ := raw.(map[string]any)
			typ, _ := prop["type"].(string)
			desc, _ := prop["description"].(string)
			ps := &genai.Schema{Type: schemaType(typ), Description: desc}
			if enum, ok := prop["enum"].([]string); ok {
				ps.Enum = enum
			}
			s.Properties[name] = ps
		}
	}
	if required, ok := params["required"].([]string); ok {
		s.Required = required
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
