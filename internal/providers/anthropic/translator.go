package anthropic

import (
	"strings"
	"time"

	"aigateway/internal/core"
)

// defaultMaxTokens is sent when the caller sets no limit; the Messages API
// requires one.
const defaultMaxTokens = 4096

// anthropicRequest represents the Anthropic API request format
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Metadata      *anthropicMetadata `json:"metadata,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// anthropicMessage represents a message in Anthropic format
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// anthropicResponse represents the Anthropic API response format
type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

// anthropicContent represents content in Anthropic response
type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicUsage represents token usage in Anthropic response
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent represents a streaming event from Anthropic
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

// anthropicDelta represents a delta in streaming response
type anthropicDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToNative converts a canonical request to the Messages API format. System
// messages are lifted into the top-level system field, joined by blank lines.
func ToNative(req *core.ChatRequest) *anthropicRequest {
	native := &anthropicRequest{
		Model:         req.Model,
		Messages:      make([]anthropicMessage, 0, len(req.Messages)),
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		native.MaxTokens = *req.MaxTokens
	}
	if req.User != "" {
		native.Metadata = &anthropicMetadata{UserID: req.User}
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		native.Messages = append(native.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	native.System = strings.Join(system, "\n\n")
	return native
}

// RequestFromNative converts a Messages API request back to canonical form.
// The system prompt becomes a leading system message.
func RequestFromNative(native *anthropicRequest) *core.ChatRequest {
	maxTokens := native.MaxTokens
	req := &core.ChatRequest{
		Model:       native.Model,
		Temperature: native.Temperature,
		TopP:        native.TopP,
		TopK:        native.TopK,
		MaxTokens:   &maxTokens,
		Stop:        native.StopSequences,
		Stream:      native.Stream,
	}
	if native.Metadata != nil {
		req.User = native.Metadata.UserID
	}
	if native.System != "" {
		req.Messages = append(req.Messages, core.Message{Role: core.RoleSystem, Content: native.System})
	}
	for _, m := range native.Messages {
		req.Messages = append(req.Messages, core.Message{Role: m.Role, Content: m.Content})
	}
	return req
}

// finishReason maps Anthropic stop reasons onto the canonical vocabulary
func finishReason(stopReason string) string {
	switch stopReason {
	case "", "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}

// FromNative converts an Anthropic response to the canonical form. Text
// blocks are concatenated into the single assistant segment.
func FromNative(resp *anthropicResponse) *core.ChatResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &core.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Created: time.Now().Unix(),
		Choices: []core.Choice{
			{
				Index: 0,
				Message: core.Message{
					Role:    core.RoleAssistant,
					Content: content.String(),
				},
				FinishReason: finishReason(resp.StopReason),
			},
		},
		Usage: core.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// streamConverter turns Anthropic stream events into canonical chunks. It
// carries the message id, model and prompt token count across events.
type streamConverter struct {
	msgID       string
	model       string
	created     int64
	inputTokens int
}

func newStreamConverter(model string) *streamConverter {
	return &streamConverter{model: model, created: time.Now().Unix()}
}

func (sc *streamConverter) chunk() *core.Chunk {
	return &core.Chunk{ID: sc.msgID, Model: sc.model, Created: sc.created}
}

// convertEvent returns the chunks for one event and whether the stream ended
func (sc *streamConverter) convertEvent(event *anthropicStreamEvent) ([]*core.Chunk, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			sc.msgID = event.Message.ID
			if event.Message.Model != "" {
				sc.model = event.Message.Model
			}
			sc.inputTokens = event.Message.Usage.InputTokens
		}
		c := sc.chunk()
		c.Role = core.RoleAssistant
		return []*core.Chunk{c}, false

	case "content_block_delta":
		if event.Delta != nil && event.Delta.Text != "" {
			c := sc.chunk()
			c.Delta = event.Delta.Text
			return []*core.Chunk{c}, false
		}

	case "message_delta":
		c := sc.chunk()
		if event.Delta != nil && event.Delta.StopReason != "" {
			c.FinishReason = finishReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			c.Usage = &core.Usage{
				PromptTokens:     sc.inputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      sc.inputTokens + event.Usage.OutputTokens,
			}
		}
		if c.FinishReason != "" || c.Usage != nil {
			return []*core.Chunk{c}, false
		}

	case "message_stop":
		return nil, true
	}

	return nil, false
}
