// Package anthropic implements the chat-completions backend family
// on top of the Anthropic Claude Messages API. It is
// stateless across calls: CreateAgent binds a system prompt locally with no
// network round-trip, and every turn re-sends the full transcript.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter so tests can substitute a mock.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// DefaultModel is used when a request does not specify a model.
		DefaultModel string
		// HighModel is used for model.ModelClassHighReasoning requests.
		HighModel string
		// SmallModel is used for model.ModelClassSmall requests.
		SmallModel string
		// MaxTokens is the default completion cap.
		MaxTokens int
		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float64
	}

	agentHandle struct {
		client       *Client
		instructions string
		tools        []*model.ToolDefinition
	}
)

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client,
// reading ANTHROPIC_API_KEY handling from the SDK's own option.WithAPIKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel, MaxTokens: 4096})
}

// CreateAgent binds name and instructions locally; Anthropic Messages is
// stateless so no network call is made here.
func (c *Client) CreateAgent(_ context.Context, _ string, instructions string, tools []*model.ToolDefinition) (model.AgentHandle, error) {
	return &agentHandle{client: c, instructions: instructions, tools: tools}, nil
}

func (h *agentHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	req := h.buildRequest(messages, tools)
	params, nameMap, err := h.client.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := h.client.msg.New(ctx, *params)
	if err != nil {
		if model.IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

func (h *agentHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	req := h.buildRequest(messages, tools)
	params, nameMap, err := h.client.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := h.client.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if model.IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return newStreamer(stream, nameMap), nil
}

func (h *agentHandle) buildRequest(messages []*model.Message, tools []*model.ToolDefinition) *model.Request {
	full := make([]*model.Message, 0, len(messages)+1)
	if h.instructions != "" {
		full = append(full, &model.Message{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: h.instructions}}})
	}
	full = append(full, messages...)
	if len(tools) == 0 {
		tools = h.tools
	}
	return &model.Request{Messages: full, Tools: tools}
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModelID(req)
	toolParams, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	temp := float64(req.Temperature)
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return &params, nameMap, nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v model.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
}

func encodeTools(defs []*model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	nameMap := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
		nameMap[def.Name] = def.Name
	}
	return out, nameMap, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &model.Response{StopReason: string(msg.StopReason)}
	resp.Usage = model.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Content = append(resp.Content, model.Message{
				Role:  model.RoleAssistant,
				Parts: []model.Part{model.TextPart{Text: block.Text}},
			})
		case "tool_use":
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			payload, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: encode tool_use input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{Name: name, Payload: payload, ID: block.ID})
		case "thinking":
			resp.Content = append(resp.Content, model.Message{
				Role:  model.RoleAssistant,
				Parts: []model.Part{model.ThinkingPart{Text: block.Thinking, Signature: block.Signature}},
			})
		}
	}
	return resp, nil
}
