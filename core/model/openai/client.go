// Package openai implements a chat-completions backend family on top of the
// OpenAI Chat Completions API via github.com/sashabaranov/go-openai. The
// provider is stateless: CreateAgent binds a named persona locally, and
// every subsequent Run or Stream call replays that persona's instructions as
// a leading system message.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
)

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter so tests can substitute a mock.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	}

	// Options configures the OpenAI adapter.
	Options struct {
		Client       ChatClient
		DefaultModel string
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat  ChatClient
		model string
	}

	agentHandle struct {
		client       *Client
		name         string
		instructions string
		tools        []*model.ToolDefinition
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// CreateAgent binds a persona locally. No network call is made;
// the persona is replayed as a system message on every Run/Stream.
func (c *Client) CreateAgent(_ context.Context, name, instructions string, tools []*model.ToolDefinition) (model.AgentHandle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("openai: agent name is required")
	}
	return &agentHandle{client: c, name: name, instructions: instructions, tools: tools}, nil
}

func (h *agentHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	if len(tools) == 0 {
		tools = h.tools
	}
	request, err := h.client.buildRequest(h.instructions, messages, tools)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		if model.IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter has no streaming transport;
// the agent runner falls back to a non-streamed Run call.
func (h *agentHandle) Stream(context.Context, []*model.Message, []*model.ToolDefinition) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *Client) buildRequest(instructions string, messages []*model.Message, tools []*model.ToolDefinition) (*openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if instructions != "" {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		role, err := encodeRole(m.Role)
		if err != nil {
			return nil, err
		}
		text := model.TextOf(*m)
		var calls []openai.ToolCall
		for _, p := range m.Parts {
			if tu, ok := p.(model.ToolUsePart); ok {
				data, err := json.Marshal(tu.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: encode tool_use input: %w", err)
				}
				calls = append(calls, openai.ToolCall{
					ID:   tu.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tu.Name,
						Arguments: string(data),
					},
				})
			}
			if tr, ok := p.(model.ToolResultPart); ok {
				content := encodeToolResultContent(tr.Content)
				chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: tr.ToolUseID,
				})
			}
		}
		if text == "" && len(calls) == 0 {
			continue
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: calls})
	}
	if len(chatMsgs) == 0 {
		return nil, errors.New("openai: at least one renderable message is required")
	}
	toolParams, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	return &openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: chatMsgs,
		Tools:    toolParams,
	}, nil
}

func encodeRole(role model.ConversationRole) (string, error) {
	switch role {
	case model.RoleUser:
		return openai.ChatMessageRoleUser, nil
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem, nil
	default:
		return "", fmt.Errorf("openai: unsupported message role %q", role)
	}
}

func encodeToolResultContent(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	out := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for i, choice := range resp.Choices {
		msg := choice.Message
		if strings.TrimSpace(msg.Content) != "" {
			out.Content = append(out.Content, model.Message{
				Role:  model.RoleAssistant,
				Parts: []model.Part{model.TextPart{Text: msg.Content}},
			})
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    call.Function.Name,
				Payload: parseToolArguments(call.Function.Arguments),
				ID:      call.ID,
			})
		}
		if i == 0 {
			out.StopReason = string(choice.FinishReason)
		}
	}
	return out
}

func parseToolArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage(`{}`)
	}
	var probe any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}
