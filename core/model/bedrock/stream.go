package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/error505/azure-cloud-ai-visualizer/core/model"
)

// streamer adapts a Bedrock ConverseStream event stream to model.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	provToCanon map[string]string
}

func newStreamer(stream *bedrockruntime.ConverseStreamEventStream, provToCanon map[string]string) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{ctx: ctx, cancel: cancel, stream: stream, chunks: make(chan model.Chunk, 32), provToCanon: provToCanon}
	go s.run()
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

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() { _ = s.stream.Close() }()

	toolBlocks := make(map[int32]*toolBuffer)
	events := s.stream.Events()

	emit := func(c model.Chunk) bool {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return false
		case s.chunks <- c:
			return true
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				}
				return
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					name := derefStr(start.Value.Name)
					if canon, ok := s.provToCanon[name]; ok {
						name = canon
					}
					toolBlocks[derefI32(ev.Value.ContentBlockIndex)] = &toolBuffer{id: derefStr(start.Value.ToolUseId), name: name}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if delta.Value == "" {
						continue
					}
					if !emit(model.Chunk{
						Type:    model.ChunkTypeText,
						Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: delta.Value}}},
					}) {
						return
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					if tb := toolBlocks[derefI32(ev.Value.ContentBlockIndex)]; tb != nil && delta.Value.Input != nil {
						tb.fragments = append(tb.fragments, *delta.Value.Input)
					}
				case *brtypes.ContentBlockDeltaMemberReasoningContent:
					if text, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
						if !emit(model.Chunk{
							Type:     model.ChunkTypeThinking,
							Thinking: text.Value,
							Message:  &model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.ThinkingPart{Text: text.Value, Index: int(derefI32(ev.Value.ContentBlockIndex))}}},
						}) {
							return
						}
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				if tb := toolBlocks[derefI32(ev.Value.ContentBlockIndex)]; tb != nil {
					delete(toolBlocks, derefI32(ev.Value.ContentBlockIndex))
					payload := decodeToolPayload(strings.Join(tb.fragments, ""))
					if !emit(model.Chunk{
						Type:     model.ChunkTypeToolCall,
						ToolCall: &model.ToolCall{Name: tb.name, Payload: payload, ID: tb.id},
					}) {
						return
					}
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				chunk := model.Chunk{Type: model.ChunkTypeStop}
				if ev.Value.StopReason != "" {
					chunk.StopReason = string(ev.Value.StopReason)
				}
				if !emit(chunk) {
					return
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage == nil {
					continue
				}
				usage := model.TokenUsage{
					InputTokens:  int(derefI32(ev.Value.Usage.InputTokens)),
					OutputTokens: int(derefI32(ev.Value.Usage.OutputTokens)),
					TotalTokens:  int(derefI32(ev.Value.Usage.TotalTokens)),
				}
				s.recordUsage(usage)
				if !emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}) {
					return
				}
			}
		}
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
