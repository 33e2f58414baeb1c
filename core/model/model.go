// Package model defines the provider-agnostic message and streaming types
// used by the team workflow, the agent runner, and provider adapters. It
// models messages as typed parts (text, thinking, tool use/result) plus
// conversation roles, and exposes a single Client/Streamer capability surface
// shaped to fit the managed-agent, chat-completions, and local-inference
// backend families. The adapters in this module (anthropic, bedrock, openai)
// are all of the stateless chat-completions kind.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole is the role of the speaker for a message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is implemented by all message content blocks.
	Part interface{ isPart() }

	// TextPart is plain user-visible text.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries provider-issued reasoning content. Callers treat
	// this as opaque: thinking deltas are forwarded to subscribers, which
	// may render or ignore them.
	ThinkingPart struct {
		Text      string
		Signature string
		Index     int
		Final     bool
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input any
	}

	// ToolResultPart carries a tool result attached to a user message so the
	// model can read it on the next turn.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// Message is a single chat message: an ordered list of parts under a role.
	Message struct {
		Role  ConversationRole
		Parts []Part
		Meta  map[string]any
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model, with canonical JSON
	// arguments. Provider adapters MUST populate Payload as canonical
	// json.RawMessage; downstream code treats it as opaque.
	ToolCall struct {
		Name    string
		Payload json.RawMessage
		ID      string
	}

	// ToolChoiceMode controls how the model is allowed to use tools.
	ToolChoiceMode string

	// ToolChoice configures optional tool-use behavior for a Request.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// ThinkingOptions configures provider "thinking"/reasoning behavior.
	ThinkingOptions struct {
		Enable       bool
		BudgetTokens int
	}

	// Request captures the inputs to a single model invocation.
	Request struct {
		RunID       string
		Model       string
		ModelClass  ModelClass
		Messages    []*Message
		Temperature float32
		Tools       []*ToolDefinition
		ToolChoice  *ToolChoice
		MaxTokens   int
		Stream      bool
		Thinking    *ThinkingOptions
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content   []Message
		ToolCalls []ToolCall
		Usage     TokenUsage
		StopReason string
	}

	// Chunk is a single streaming event from the model. Native shapes are
	// heterogeneous across backend families; each adapter's streamer
	// translates them, and this struct is the NORMALIZED form every adapter
	// must emit so the agent runner (which only switches on Type) never has
	// to special-case a provider.
	Chunk struct {
		Type       string
		Message    *Message
		Thinking   string
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// ModelClass selects a model family when Request.Model is empty.
	ModelClass string

	// Client is the provider-agnostic chat backend capability surface
	// CreateAgent is modeled as AgentHandle construction;
	// implementations that are stateless (chat-completions) bind name and
	// instructions locally with no network call, while managed-agent
	// implementations may provision a server-side agent.
	Client interface {
		// CreateAgent binds a role name and instructions to an AgentHandle.
		// Implementations must not reject unknown tool lists.
		CreateAgent(ctx context.Context, name, instructions string, tools []*ToolDefinition) (AgentHandle, error)
	}

	// AgentHandle is a bound agent ready to run or stream a single turn.
	AgentHandle interface {
		// Run performs a blocking invocation and returns the full final text
		// response. Used for non-streamed fallbacks and short helper calls.
		Run(ctx context.Context, messages []*Message, tools []*ToolDefinition) (*Response, error)

		// Stream performs a streaming invocation when supported. Callers must
		// drain Recv until io.EOF (or another terminal error) and then Close.
		Stream(ctx context.Context, messages []*Message, tools []*ToolDefinition) (Streamer, error)
	}

	// Streamer delivers incremental model output.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
		Metadata() map[string]any
	}
)

const (
	ToolChoiceModeAuto ToolChoiceMode = "auto"
	ToolChoiceModeNone ToolChoiceMode = "none"
	ToolChoiceModeAny  ToolChoiceMode = "any"
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeThinking = "thinking"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

const (
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
)

// ErrStreamingUnsupported indicates the provider does not support streaming;
// callers fall back to a blocking Run call.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers must not retry in a tight loop.
var ErrRateLimited = errors.New("model: rate limited")

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// TextOf returns the concatenation of every TextPart in msg, in order. It is
// a convenience used by the agent runner and the artifact producers to turn
// a model Message into plain text.
func TextOf(msg Message) string {
	var out string
	for _, p := range msg.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
