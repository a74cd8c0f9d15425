package openai

import (
	"encoding/json"
	"strings"
	"time"

	"aigateway/internal/core"
)

// chatRequest is the native Chat Completions request body
type chatRequest struct {
	Model               string         `json:"model"`
	Messages            []core.Message `json:"messages"`
	Temperature         *float64       `json:"temperature,omitempty"`
	TopP                *float64       `json:"top_p,omitempty"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	N                   *int           `json:"n,omitempty"`
	Stop                []string       `json:"stop,omitempty"`
	PresencePenalty     *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64       `json:"frequency_penalty,omitempty"`
	Seed                *int           `json:"seed,omitempty"`
	User                string         `json:"user,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
	StreamOptions       *streamOptions `json:"stream_options,omitempty"`

	// Extra carries caller parameters the gateway does not model
	Extra map[string]json.RawMessage `json:"-"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// MarshalJSON merges Extra into the body without overriding modeled fields
func (r chatRequest) MarshalJSON() ([]byte, error) {
	type plain chatRequest
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

type chatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chunkResponse struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *usage        `json:"usage,omitempty"`
}

type chunkChoice struct {
	Index int `json:"index"`
	Delta struct {
		Role    string `json:"role,omitempty"`
		Content string `json:"content,omitempty"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	User           string   `json:"user,omitempty"`
}

type embeddingResponse struct {
	Object string               `json:"object"`
	Data   []core.EmbeddingData `json:"data"`
	Model  string               `json:"model"`
	Usage  core.EmbeddingUsage  `json:"usage"`
}

// isOSeriesModel reports whether the model is an OpenAI o-series model
// (o1, o3, o4) that requires max_completion_tokens instead of max_tokens
// and does not accept sampling parameters.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// ToNative maps a canonical request onto the Chat Completions body. The
// request must already have passed the option policy.
func ToNative(req *core.ChatRequest) *chatRequest {
	native := &chatRequest{
		Model:            req.Model,
		Messages:         append([]core.Message(nil), req.Messages...),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		N:                req.N,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		User:             req.User,
		Stream:           req.Stream,
		Extra:            req.Extra,
	}
	if isOSeriesModel(req.Model) {
		native.MaxCompletionTokens = native.MaxTokens
		native.MaxTokens = nil
	}
	return native
}

// RequestFromNative maps a Chat Completions body back to the canonical form
func RequestFromNative(native *chatRequest) *core.ChatRequest {
	req := &core.ChatRequest{
		Model:            native.Model,
		Messages:         append([]core.Message(nil), native.Messages...),
		Temperature:      native.Temperature,
		TopP:             native.TopP,
		MaxTokens:        native.MaxTokens,
		N:                native.N,
		Stop:             native.Stop,
		PresencePenalty:  native.PresencePenalty,
		FrequencyPenalty: native.FrequencyPenalty,
		Seed:             native.Seed,
		User:             native.User,
		Stream:           native.Stream,
		Extra:            native.Extra,
	}
	if native.MaxCompletionTokens != nil {
		req.MaxTokens = native.MaxCompletionTokens
	}
	return req
}

// FromNative maps a Chat Completions response to the canonical form
func FromNative(resp *chatResponse, requestedModel string) *core.ChatResponse {
	out := &core.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Created: resp.Created,
		Choices: make([]core.Choice, 0, len(resp.Choices)),
	}
	if out.Model == "" {
		out.Model = requestedModel
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	for _, c := range resp.Choices {
		role := c.Message.Role
		if role == "" {
			role = core.RoleAssistant
		}
		content := ""
		if c.Message.Content != nil {
			content = *c.Message.Content
		}
		out.Choices = append(out.Choices, core.Choice{
			Index:        c.Index,
			Message:      core.Message{Role: role, Content: content},
			FinishReason: c.FinishReason,
		})
	}
	if resp.Usage != nil {
		out.Usage = core.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

// ChunkFromNative maps one streamed chunk to canonical chunks, one per choice.
// A usage-only chunk becomes a single chunk carrying Usage.
func ChunkFromNative(c *chunkResponse) []*core.Chunk {
	out := make([]*core.Chunk, 0, len(c.Choices)+1)
	for _, ch := range c.Choices {
		chunk := &core.Chunk{
			ID:      c.ID,
			Model:   c.Model,
			Created: c.Created,
			Index:   ch.Index,
			Role:    ch.Delta.Role,
			Delta:   ch.Delta.Content,
		}
		if ch.FinishReason != nil {
			chunk.FinishReason = *ch.FinishReason
		}
		out = append(out, chunk)
	}
	if c.Usage != nil {
		u := &core.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
		if len(out) > 0 {
			out[len(out)-1].Usage = u
		} else {
			out = append(out, &core.Chunk{ID: c.ID, Model: c.Model, Created: c.Created, Usage: u})
		}
	}
	return out
}

// EmbeddingsToNative maps a canonical embeddings request. Vectors are always
// requested as floats since the canonical response carries floats.
func EmbeddingsToNative(req *core.EmbeddingRequest) *embeddingRequest {
	return &embeddingRequest{
		Model:          req.Model,
		Input:          req.Input,
		EncodingFormat: "float",
		Dimensions:     req.Dimensions,
		User:           req.User,
	}
}

// EmbeddingsFromNative maps an embeddings response to the canonical form
func EmbeddingsFromNative(resp *embeddingResponse, requestedModel string) *core.EmbeddingResponse {
	out := &core.EmbeddingResponse{
		Object: "list",
		Data:   resp.Data,
		Model:  resp.Model,
		Usage:  resp.Usage,
	}
	if out.Model == "" {
		out.Model = requestedModel
	}
	for i := range out.Data {
		if out.Data[i].Object == "" {
			out.Data[i].Object = "embedding"
		}
	}
	return out
}
