package relay

import (
	"encoding/json"

	"aigateway/internal/core"
)

// openAIChunk is the chat.completion.chunk wire shape
type openAIChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *core.Usage   `json:"usage,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// encoder fills in the id and model on chunks from providers that only send
// them once.
type encoder struct {
	id    string
	model string
}

func newEncoder(model string) *encoder {
	return &encoder{model: model}
}

func (e *encoder) encode(c *core.Chunk) ([]byte, error) {
	if c.ID != "" {
		e.id = c.ID
	}
	if e.model == "" && c.Model != "" {
		e.model = c.Model
	}
	out := openAIChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: c.Created,
		Model:   e.model,
		Usage:   c.Usage,
		Choices: []chunkChoice{},
	}
	// a usage-only chunk carries no choice
	if c.Role != "" || c.Delta != "" || c.FinishReason != "" || c.Usage == nil {
		choice := chunkChoice{Index: c.Index, Delta: chunkDelta{Role: c.Role, Content: c.Delta}}
		if c.FinishReason != "" {
			reason := c.FinishReason
			choice.FinishReason = &reason
		}
		out.Choices = append(out.Choices, choice)
	}
	return json.Marshal(out)
}
