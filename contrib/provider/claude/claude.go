package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/message"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 4096,
	}
}

// Provider implements agent.StreamLLMClient for the Anthropic Messages API.
type Provider struct {
	config *Config
	client anthropic.Client
}

var _ agent.StreamLLMClient = (*Provider)(nil)

// New creates a new Claude provider using official SDK
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithAuthToken(""),
	}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	msg, err := convertMessage(apiMessage)
	if err != nil {
		return nil, err
	}
	return &agent.GenerateResponse{Message: msg}, nil
}

// GenerateStream implements agent.StreamLLMClient.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		params, err := p.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("Claude stream accumulate: %w", err))
				return
			}
			if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if !yield(&message.Message{Role: message.RoleAssistant, Content: event.Delta.Text}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("Claude streaming error: %w", err))
			return
		}

		final, err := convertMessage(&acc)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(final, nil)
	}
}

func (p *Provider) buildParams(req *agent.GenerateRequest) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("generate request cannot be nil")
	}

	var systemPrompts []string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
		case message.RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolID, msg.Content, false)))
		}
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemPrompts, "\n")}}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	for _, schema := range req.Tools {
		tp, err := toolParam(schema)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return params, nil
}

// toolParam converts a tool schema in function-calling format.
func toolParam(schema map[string]any) (anthropic.ToolParam, error) {
	fn, ok := schema["function"].(map[string]any)
	if !ok {
		return anthropic.ToolParam{}, fmt.Errorf("tool schema has no function definition")
	}
	name, _ := fn["name"].(string)
	if name == "" {
		return anthropic.ToolParam{}, fmt.Errorf("tool schema has no name")
	}
	tp := anthropic.ToolParam{Name: name}
	if desc, _ := fn["description"].(string); desc != "" {
		tp.Description = param.NewOpt(desc)
	}
	if params, ok := fn["parameters"].(map[string]any); ok {
		tp.InputSchema.Properties = params["properties"]
		if required, ok := params["required"].([]string); ok {
			tp.InputSchema.Required = required
		}
	}
	return tp, nil
}

func convertMessage(apiMessage *anthropic.Message) (*message.Message, error) {
	var text strings.Builder
	var toolCalls []message.ToolCall
	for _, content := range apiMessage.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			args := make(map[string]any)
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &args); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}

	msg := message.NewMessage(message.RoleAssistant, text.String())
	msg.ToolCalls = toolCalls
	msg.Completed = true
	return msg, nil
}
