package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/message"
)

// Config holds OpenAI provider configuration. BaseURL may point at any
// OpenAI-compatible endpoint, including an Azure OpenAI deployment.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:     "gpt-4o-mini",
		MaxTokens: 2000,
	}
}

// Provider implements agent.StreamLLMClient for OpenAI chat completions.
type Provider struct {
	config *Config
	client openai.Client
}

var _ agent.StreamLLMClient = (*Provider)(nil)

// New creates a new OpenAI provider using official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	choice := completion.Choices[0]
	responseMsg := message.NewMessage(message.RoleAssistant, choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArgs(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		responseMsg.ToolCalls = append(responseMsg.ToolCalls, message.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	responseMsg.Completed = true
	return &agent.GenerateResponse{Message: responseMsg}, nil
}

// GenerateStream implements agent.StreamLLMClient.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		params, err := p.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			content strings.Builder
			calls   []message.ToolCall
			rawArgs []strings.Builder
		)
		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta

			if delta.Content != "" {
				content.WriteString(delta.Content)
				if !yield(&message.Message{Role: message.RoleAssistant, Content: delta.Content}, nil) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				for len(calls) <= idx {
					calls = append(calls, message.ToolCall{})
					rawArgs = append(rawArgs, strings.Builder{})
				}
				if tc.ID != "" {
					calls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					calls[idx].Name = tc.Function.Name
				}
				rawArgs[idx].WriteString(tc.Function.Arguments)
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("OpenAI streaming error: %w", err))
			return
		}

		finalMsg := message.NewMessage(message.RoleAssistant, content.String())
		for i := range calls {
			args, err := decodeArgs(rawArgs[i].String())
			if err != nil {
				yield(nil, err)
				return
			}
			calls[i].Args = args
		}
		finalMsg.ToolCalls = calls
		finalMsg.Completed = true
		yield(finalMsg, nil)
	}
}

func (p *Provider) buildParams(req *agent.GenerateRequest) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("generate request cannot be nil")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Text())
			if len(msg.ToolCalls) > 0 && assistantMsg.OfAssistant != nil {
				toolCalls, err := encodeToolCalls(msg.ToolCalls)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to encode tool calls: %w", err)
				}
				assistantMsg.OfAssistant.ToolCalls = toolCalls
			}
			msgs = append(msgs, assistantMsg)
		case message.RoleTool:
			msgs = append(msgs, openai.ToolMessage(msg.Text(), msg.ToolID))
		}
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}

	for _, schema := range req.Tools {
		fn, err := functionDefinition(schema)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(fn))
	}
	return params, nil
}

// functionDefinition converts a tool schema in function-calling format.
func functionDefinition(schema map[string]any) (shared.FunctionDefinitionParam, error) {
	fn, ok := schema["function"].(map[string]any)
	if !ok {
		return shared.FunctionDefinitionParam{}, fmt.Errorf("tool schema has no function definition")
	}
	name, _ := fn["name"].(string)
	if name == "" {
		return shared.FunctionDefinitionParam{}, fmt.Errorf("tool schema has no name")
	}
	def := shared.FunctionDefinitionParam{Name: name}
	if desc, _ := fn["description"].(string); desc != "" {
		def.Description = param.NewOpt(desc)
	}
	if params, ok := fn["parameters"].(map[string]any); ok {
		def.Parameters = shared.FunctionParameters(params)
	}
	return def, nil
}

func encodeToolCalls(calls []message.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = make(map[string]any)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return params, nil
}

func decodeArgs(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	return args, nil
}
