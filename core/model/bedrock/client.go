// Package bedrock implements an additional remote chat-completions backend
// family on top of the AWS Bedrock Converse API. It shares the
// rate-limit/cooldown error taxonomy as the other adapters via AWS's
// ThrottlingException and HTTP 429 signaling.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
)

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the adapter, matching *bedrockruntime.Client so tests can
	// substitute a mock.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	}

	// Options configures the Bedrock adapter.
	Options struct {
		Runtime      RuntimeClient
		DefaultModel string
		HighModel    string
		SmallModel   string
		MaxTokens    int
		Temperature  float32
	}

	// Client implements model.Client on top of AWS Bedrock Converse.
	Client struct {
		runtime      RuntimeClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float32
	}

	agentHandle struct {
		client       *Client
		instructions string
		tools        []*model.ToolDefinition
	}

	requestParts struct {
		modelID    string
		messages   []brtypes.Message
		system     []brtypes.SystemContentBlock
		toolConfig *brtypes.ToolConfiguration
		provToCano map[string]string
	}
)

// New builds a Bedrock-backed model client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// CreateAgent binds name and instructions locally; Bedrock Converse is
// stateless so no network call is made here.
func (c *Client) CreateAgent(_ context.Context, _ string, instructions string, tools []*model.ToolDefinition) (model.AgentHandle, error) {
	return &agentHandle{client: c, instructions: instructions, tools: tools}, nil
}

func (h *agentHandle) Run(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (*model.Response, error) {
	parts, err := h.client.prepareRequest(h.instructions, messages, pickTools(h, tools))
	if err != nil {
		return nil, err
	}
	out, err := h.client.runtime.Converse(ctx, h.client.buildConverseInput(parts))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(out, parts.provToCano)
}

func (h *agentHandle) Stream(ctx context.Context, messages []*model.Message, tools []*model.ToolDefinition) (model.Streamer, error) {
	parts, err := h.client.prepareRequest(h.instructions, messages, pickTools(h, tools))
	if err != nil {
		return nil, err
	}
	out, err := h.client.runtime.ConverseStream(ctx, h.client.buildConverseStreamInput(parts))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(stream, parts.provToCano), nil
}

func pickTools(h *agentHandle, tools []*model.ToolDefinition) []*model.ToolDefinition {
	if len(tools) == 0 {
		return h.tools
	}
	return tools
}

func (c *Client) prepareRequest(instructions string, messages []*model.Message, tools []*model.ToolDefinition) (*requestParts, error) {
	if len(messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := c.resolveModelID(messages)
	toolConfig, canonToProv, provToCanon, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	convMsgs, system, err := encodeMessages(messages, instructions, canonToProv)
	if err != nil {
		return nil, err
	}
	return &requestParts{modelID: modelID, messages: convMsgs, system: system, toolConfig: toolConfig, provToCano: provToCanon}, nil
}

func (c *Client) resolveModelID(_ []*model.Message) string {
	return c.defaultModel
}

func (c *Client) buildConverseInput(parts *requestParts) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  &parts.modelID,
		Messages: parts.messages,
		System:   parts.system,
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if c.maxTok > 0 || c.temp > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if c.maxTok > 0 {
			mt := int32(c.maxTok)
			cfg.MaxTokens = &mt
		}
		if c.temp > 0 {
			cfg.Temperature = &c.temp
		}
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts) *bedrockruntime.ConverseStreamInput {
	in := c.buildConverseInput(parts)
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		ToolConfig:      in.ToolConfig,
		InferenceConfig: in.InferenceConfig,
	}
}

func encodeMessages(msgs []*model.Message, instructions string, canonToProv map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	if instructions != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: instructions})
	}
	conv := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			if t := model.TextOf(*m); t != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: t})
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				data, err := json.Marshal(v.Input)
				if err != nil {
					return nil, nil, fmt.Errorf("bedrock: encode tool_use input: %w", err)
				}
				name := v.Name
				if prov, ok := canonToProv[name]; ok {
					name = prov
				}
				doc, err := docFromJSON(data)
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: &v.ID,
					Name:      &name,
					Input:     doc,
				}})
			case model.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conv = append(conv, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conv) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conv, system, nil
}

func encodeToolResult(v model.ToolResultPart) brtypes.ContentBlock {
	status := brtypes.ToolResultStatusSuccess
	if v.IsError {
		status = brtypes.ToolResultStatusError
	}
	content := []brtypes.ToolResultContentBlock{}
	text := ""
	switch c := v.Content.(type) {
	case string:
		text = c
	case []byte:
		text = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			text = string(data)
		}
	}
	if text != "" {
		content = append(content, &brtypes.ToolResultContentBlockMemberText{Value: text})
	}
	return &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
		ToolUseId: &v.ToolUseID,
		Content:   content,
		Status:    status,
	}}
}

func encodeTools(defs []*model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	canonToProv := make(map[string]string, len(defs))
	provToCanon := make(map[string]string, len(defs))
	specs := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		provName := sanitizeToolName(def.Name)
		canonToProv[def.Name] = provName
		provToCanon[provName] = def.Name
		data, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bedrock: marshal tool %q schema: %w", def.Name, err)
		}
		doc, err := docFromJSON(data)
		if err != nil {
			return nil, nil, nil, err
		}
		desc := def.Description
		specs = append(specs, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        &provName,
			Description: &desc,
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
		}})
	}
	if len(specs) == 0 {
		return nil, nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: specs}, canonToProv, provToCanon, nil
}

// sanitizeToolName converts a canonical tool identifier to the conservative
// character set Bedrock's ToolSpecification.Name accepts.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func translateResponse(out *bedrockruntime.ConverseOutput, provToCanon map[string]string) (*model.Response, error) {
	if out == nil || out.Output == nil {
		return nil, errors.New("bedrock: empty converse output")
	}
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unsupported converse output shape")
	}
	resp := &model.Response{}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(derefI32(out.Usage.InputTokens)),
			OutputTokens: int(derefI32(out.Usage.OutputTokens)),
			TotalTokens:  int(derefI32(out.Usage.TotalTokens)),
		}
	}
	for _, block := range member.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value == "" {
				continue
			}
			resp.Content = append(resp.Content, model.Message{
				Role:  model.RoleAssistant,
				Parts: []model.Part{model.TextPart{Text: v.Value}},
			})
		case *brtypes.ContentBlockMemberToolUse:
			name := derefStr(v.Value.Name)
			if canon, ok := provToCanon[name]; ok {
				name = canon
			}
			payload, err := jsonFromDoc(v.Value.Input)
			if err != nil {
				return nil, fmt.Errorf("bedrock: decode tool_use input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				Name:    name,
				Payload: payload,
				ID:      derefStr(v.Value.ToolUseId),
			})
		}
	}
	return resp, nil
}

func docFromJSON(data []byte) (document.Interface, error) {
	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("bedrock: decode json document: %w", err)
		}
	} else {
		decoded = map[string]any{}
	}
	return document.NewLazyDocument(&decoded), nil
}

func jsonFromDoc(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(data), nil
}

func derefI32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// isRateLimited reports whether err represents a provider rate limiting
// condition, treating both HTTP 429 responses and the ThrottlingException /
// TooManyRequestsException error codes as rate-limited signals.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}
