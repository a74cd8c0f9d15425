package openai

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
)

func genMessage() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(core.RoleSystem, core.RoleUser, core.RoleAssistant),
		gen.AnyString(),
	).Map(func(v []interface{}) core.Message {
		return core.Message{Role: v[0].(string), Content: v[1].(string)}
	})
}

// genChatRequest draws requests using only options the OpenAI profile supports.
func genChatRequest() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("gpt-4o", "gpt-x", "o3-mini"),
		gen.SliceOf(genMessage()),
		gen.PtrOf(gen.Float64Range(0, 2)),
		gen.PtrOf(gen.Float64Range(0, 1)),
		gen.PtrOf(gen.IntRange(1, 32000)),
		gen.PtrOf(gen.IntRange(1, 8)),
		gen.SliceOfN(2, gen.AlphaString()),
		gen.PtrOf(gen.Float64Range(-2, 2)),
		gen.PtrOf(gen.Float64Range(-2, 2)),
		gen.PtrOf(gen.Int()),
		gen.AlphaString(),
		gen.Bool(),
	).Map(func(v []interface{}) *core.ChatRequest {
		req := &core.ChatRequest{
			Model:            v[0].(string),
			Messages:         append([]core.Message{{Role: core.RoleUser, Content: "hi"}}, v[1].([]core.Message)...),
			Temperature:      optFloat(v[2]),
			TopP:             optFloat(v[3]),
			MaxTokens:        optInt(v[4]),
			N:                optInt(v[5]),
			Stop:             v[6].([]string),
			PresencePenalty:  optFloat(v[7]),
			FrequencyPenalty: optFloat(v[8]),
			Seed:             optInt(v[9]),
			User:             v[10].(string),
			Stream:           v[11].(bool),
		}
		return req
	})
}

func TestTranslator_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("RequestFromNative(ToNative(r)) == r", prop.ForAll(
		func(req *core.ChatRequest) bool {
			return reflect.DeepEqual(req, RequestFromNative(ToNative(req)))
		},
		genChatRequest(),
	))

	properties.Property("round trip survives the wire encoding", prop.ForAll(
		func(req *core.ChatRequest) bool {
			raw, err := json.Marshal(ToNative(req))
			if err != nil {
				return false
			}
			var native chatRequest
			if err := json.Unmarshal(raw, &native); err != nil {
				return false
			}
			return reflect.DeepEqual(normalize(req), normalize(RequestFromNative(&native)))
		},
		genChatRequest(),
	))

	properties.TestingRun(t)
}

// normalize folds encodings that are equivalent on the wire
func normalize(r *core.ChatRequest) *core.ChatRequest {
	cp := *r
	if len(cp.Stop) == 0 {
		cp.Stop = nil
	}
	if len(cp.Messages) == 0 {
		cp.Messages = nil
	}
	return &cp
}

func TestToNative_ExtraParameters(t *testing.T) {
	req := &core.ChatRequest{
		Model:    "gpt-4o",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
		Extra:    map[string]json.RawMessage{"logprobs": json.RawMessage(`true`), "model": json.RawMessage(`"evil"`)},
	}
	raw, err := json.Marshal(ToNative(req))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, true, body["logprobs"])
	assert.Equal(t, "gpt-4o", body["model"], "extra parameters never override modeled fields")
}

func TestChunkFromNative(t *testing.T) {
	stop := "stop"
	c := &chunkResponse{
		ID:    "c1",
		Model: "gpt-x",
		Choices: []chunkChoice{
			{Index: 0},
			{Index: 1, FinishReason: &stop},
		},
		Usage: &usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}
	c.Choices[0].Delta.Content = "hi"

	chunks := ChunkFromNative(c)
	require.Len(t, chunks, 2)
	assert.Equal(t, "hi", chunks[0].Delta)
	assert.Equal(t, "stop", chunks[1].FinishReason)
	assert.Equal(t, 3, chunks[1].Usage.TotalTokens)

	usageOnly := ChunkFromNative(&chunkResponse{ID: "c1", Usage: &usage{TotalTokens: 9}})
	require.Len(t, usageOnly, 1)
	assert.Equal(t, 9, usageOnly[0].Usage.TotalTokens)
}

func TestFromNative_NullContent(t *testing.T) {
	resp := FromNative(&chatResponse{Choices: []choice{{FinishReason: "tool_calls"}}}, "gpt-x")
	assert.Equal(t, "gpt-x", resp.Model)
	assert.Equal(t, core.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Empty(t, resp.Choices[0].Message.Content)
	assert.NotZero(t, resp.Created)
}

// optFloat and optInt unwrap gopter.PtrOf draws, which arrive as an untyped
// nil inside CombineGens when the generator picks nil.
func optFloat(v interface{}) *float64 { p, _ := v.(*float64); return p }

func optInt(v interface{}) *int { p, _ := v.(*int); return p }
