package core

import (
	"encoding/json"
	"strings"
)

// Message represents a single role-tagged message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Standard message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the canonical chat request. Recognized generation options are
// typed fields; everything the gateway does not recognize lands in Extra.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	TopK             *int      `json:"top_k,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	N                *int      `json:"n,omitempty"`
	Stop             []string  `json:"stop,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	Seed             *int      `json:"seed,omitempty"`
	User             string    `json:"user,omitempty"`
	Stream           bool      `json:"stream,omitempty"`

	// RequiredOptions lists option names the caller refuses to have dropped.
	RequiredOptions []string `json:"required_options,omitempty"`

	// Extra holds unrecognized top-level fields, forwarded only to providers
	// that accept arbitrary parameters.
	Extra map[string]json.RawMessage `json:"-"`
}

var chatRequestFields = map[string]bool{
	"model": true, "messages": true, "temperature": true, "top_p": true, "top_k": true,
	"max_tokens": true, "n": true, "stop": true, "presence_penalty": true,
	"frequency_penalty": true, "seed": true, "user": true, "stream": true,
	"required_options": true, "stream_options": true,
}

// UnmarshalJSON decodes a chat request and collects unknown fields into Extra.
// A single string "stop" is accepted as well as a list.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type plain ChatRequest
	var aux struct {
		plain
		Stop json.RawMessage `json:"stop,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ChatRequest(aux.plain)
	r.Stop = nil
	if len(aux.Stop) > 0 && string(aux.Stop) != "null" {
		var single string
		if err := json.Unmarshal(aux.Stop, &single); err == nil {
			r.Stop = []string{single}
		} else if err := json.Unmarshal(aux.Stop, &r.Stop); err != nil {
			return err
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if chatRequestFields[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON encodes the request with Extra fields merged at the top level.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type plain ChatRequest
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
// This avoids mutating the caller's request object.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	cp := *r
	cp.Stream = true
	return &cp
}

// WithModel returns a shallow copy of the request targeting model.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	cp := *r
	cp.Model = model
	return &cp
}

// IsRequired reports whether the caller marked option as required.
func (r *ChatRequest) IsRequired(option string) bool {
	for _, o := range r.RequiredOptions {
		if strings.EqualFold(o, option) {
			return true
		}
	}
	return false
}

// ChatResponse is the canonical chat response
type ChatResponse struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Model    string   `json:"model"`
	Provider string   `json:"provider,omitempty"`
	Choices  []Choice `json:"choices"`
	Usage    Usage    `json:"usage"`
	Created  int64    `json:"created"`
	Warnings []string `json:"warnings,omitempty"`
}

// Text concatenates the content of every choice in index order.
func (r *ChatResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Choices {
		b.WriteString(c.Message.Content)
	}
	return b.String()
}

// Choice represents a single output segment
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is the streaming unit: an incremental delta to one output segment.
// A chunk with FinishReason set closes its segment; Done marks the end of the
// stream. Err is set on a terminal error chunk.
type Chunk struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Created      int64         `json:"created"`
	Index        int           `json:"index"`
	Role         string        `json:"role,omitempty"`
	Delta        string        `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Done         bool          `json:"done,omitempty"`
	Err          *GatewayError `json:"-"`
}

// EmbeddingRequest is the canonical embeddings request
type EmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	User           string   `json:"user,omitempty"`
}

// UnmarshalJSON accepts "input" as a single string or a list of strings.
func (r *EmbeddingRequest) UnmarshalJSON(data []byte) error {
	type plain EmbeddingRequest
	var aux struct {
		plain
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = EmbeddingRequest(aux.plain)
	r.Input = nil
	if len(aux.Input) == 0 || string(aux.Input) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(aux.Input, &single); err == nil {
		r.Input = []string{single}
		return nil
	}
	return json.Unmarshal(aux.Input, &r.Input)
}

// EmbeddingResponse is the canonical embeddings response
type EmbeddingResponse struct {
	Object   string          `json:"object"`
	Data     []EmbeddingData `json:"data"`
	Model    string          `json:"model"`
	Provider string          `json:"provider,omitempty"`
	Usage    EmbeddingUsage  `json:"usage"`
}

// EmbeddingData is a single embedding vector
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage holds token counts for an embeddings call
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
