package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
)

// streamer adapts an Anthropic Messages streaming response to model.Streamer.
// Events are translated on a background goroutine and delivered through a
// buffered channel so Recv never blocks on SDK internals.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{ctx: ctx, cancel: cancel, stream: stream, chunks: make(chan model.Chunk, 32)}
	go s.run(nameMap)
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	toolBlocks := make(map[int64]*toolBuffer)
	emit := func(c model.Chunk) error {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case s.chunks <- c:
			return nil
		}
	}

	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				name := toolUse.Name
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				toolBlocks[ev.Index] = &toolBuffer{id: toolUse.ID, name: name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if err := emit(model.Chunk{
					Type:    model.ChunkTypeText,
					Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: delta.Text}}},
				}); err != nil {
					s.setErr(err)
					return
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			case sdk.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				if err := emit(model.Chunk{
					Type:     model.ChunkTypeThinking,
					Thinking: delta.Thinking,
					Message:  &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.ThinkingPart{Text: delta.Thinking, Index: int(ev.Index)}}},
				}); err != nil {
					s.setErr(err)
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[ev.Index]; tb != nil {
				delete(toolBlocks, ev.Index)
				payload := decodeToolPayload(strings.Join(tb.fragments, ""))
				if err := emit(model.Chunk{
					Type:     model.ChunkTypeToolCall,
					ToolCall: &model.ToolCall{Name: tb.name, Payload: payload, ID: tb.id},
				}); err != nil {
					s.setErr(err)
					return
				}
			}
		case sdk.MessageDeltaEvent:
			s.recordUsage(model.TokenUsage{OutputTokens: int(ev.Usage.OutputTokens)})
			if ev.Delta.StopReason != "" {
				if err := emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: string(ev.Delta.StopReason)}); err != nil {
					s.setErr(err)
					return
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) recordUsage(u model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = u
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

// decodeToolPayload assembles a tool call's streamed JSON fragments into
// canonical json.RawMessage, falling back to an empty object on malformed
// input so the agent runner always has something to dispatch against.
func decodeToolPayload(joined string) json.RawMessage {
	if strings.TrimSpace(joined) == "" {
		return json.RawMessage(`{}`)
	}
	var probe any
	if err := json.Unmarshal([]byte(joined), &probe); err != nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(joined)
}
