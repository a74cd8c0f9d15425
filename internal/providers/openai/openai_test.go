package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
	"aigateway/internal/providers"
)

func testCall(baseURL string) core.Call {
	return core.Call{
		Endpoint: core.Endpoint{Name: "my-chat", ProviderKind: core.ProviderOpenAI, ModelID: "gpt-x"},
		Credential: core.Credential{
			ID:           "cred-1",
			ProviderKind: core.ProviderOpenAI,
			Secret:       []byte("sk-test"),
			Metadata:     map[string]string{core.MetadataBaseURL: baseURL},
		},
	}
}

func helloRequest() *core.ChatRequest {
	return &core.ChatRequest{
		Model:    "gpt-x",
		Messages: []core.Message{{Role: core.RoleUser, Content: "Hello!"}},
	}
}

// fakeUpstream answers Chat Completions calls with a fixed text, buffered or streamed.
func fakeUpstream(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			parts := []string{text[:3], text[3:7], text[7:]}
			for i, p := range parts {
				if i == 0 {
					fmt.Fprintf(w, "data: {\"id\":\"c1\",\"model\":\"gpt-x\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":%q},\"finish_reason\":null}]}\n\n", p)
					continue
				}
				fmt.Fprintf(w, "data: {\"id\":\"c1\",\"model\":\"gpt-x\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", p)
			}
			fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt-x\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
			fmt.Fprint(w, "data: {\"id\":\"c1\",\"model\":\"gpt-x\",\"choices\":[],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":3,\"total_tokens\":5}}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1700000000,"model":"gpt-x",
			"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":2,"completion_tokens":3,"total_tokens":5}}`, text)
	}))
}

func TestChat_HelloScenario(t *testing.T) {
	server := fakeUpstream(t, "Hi there, friend")
	defer server.Close()

	p := New(OpenAI, providers.BuildOptions{})
	resp, err := p.Chat(context.Background(), testCall(server.URL), helloRequest())
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, core.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "Hi there, friend", resp.Choices[0].Message.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestStreamingMatchesBuffered(t *testing.T) {
	server := fakeUpstream(t, "Hello world, streamed")
	defer server.Close()

	p := New(OpenAI, providers.BuildOptions{})
	buffered, err := p.Chat(context.Background(), testCall(server.URL), helloRequest())
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), testCall(server.URL), helloRequest())
	require.NoError(t, err)
	streamed, err := providers.Collect(stream)
	require.NoError(t, err)

	assert.Equal(t, buffered.Text(), streamed.Text())
	assert.Equal(t, "stop", streamed.Choices[0].FinishReason)
	assert.Equal(t, buffered.Usage, streamed.Usage)
}

func TestStreamChat_RequestsUsage(t *testing.T) {
	var sawUsage atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StreamOptions *streamOptions `json:"stream_options"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawUsage.Store(body.StreamOptions != nil && body.StreamOptions.IncludeUsage)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stream, err := New(OpenAI, providers.BuildOptions{}).StreamChat(context.Background(), testCall(server.URL), helloRequest())
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, stream.Close())
	assert.True(t, sawUsage.Load())
}

func TestStreamChat_MidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"part\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"model overloaded\"}}\n\n")
	}))
	defer server.Close()

	stream, err := New(OpenAI, providers.BuildOptions{}).StreamChat(context.Background(), testCall(server.URL), helloRequest())
	require.NoError(t, err)
	defer stream.Close()

	c, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "part", c.Delta)

	_, err = stream.Recv()
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestChat_ErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   *core.GatewayError
	}{
		{name: "bad model", status: http.StatusNotFound, want: core.ErrUpstreamRejected},
		{name: "quota", status: http.StatusTooManyRequests, want: core.ErrUpstreamRejected},
		{name: "outage", status: http.StatusServiceUnavailable, want: core.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			_, err := New(OpenAI, providers.BuildOptions{}).Chat(context.Background(), testCall(server.URL), helloRequest())
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, "openai", core.AsGatewayError(err).Provider)
		})
	}
}

func TestEmbeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "float", body.EncodingFormat)
		assert.Equal(t, []string{"a", "b"}, body.Input)
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"index":0,"embedding":[0.1,0.2]},{"index":1,"embedding":[0.3,0.4]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	call := testCall(server.URL)
	call.Endpoint.ModelID = "text-embedding-3-small"
	resp, err := New(OpenAI, providers.BuildOptions{}).Embeddings(context.Background(), call,
		&core.EmbeddingRequest{Model: "text-embedding-3-small", Input: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "embedding", resp.Data[1].Object)
	assert.Equal(t, []float64{0.3, 0.4}, resp.Data[1].Embedding)
	assert.Equal(t, "openai", resp.Provider)
}

func TestEmbeddings_UnsupportedKind(t *testing.T) {
	_, err := New(Groq, providers.BuildOptions{}).Embeddings(context.Background(), testCall("http://unused"),
		&core.EmbeddingRequest{Model: "m", Input: []string{"a"}})
	require.ErrorIs(t, err, core.ErrCapabilityUnsupported)
}

func TestSupportsModel(t *testing.T) {
	p := New(OpenAI, providers.BuildOptions{})
	assert.True(t, p.SupportsModel(core.CapabilityChat, "gpt-x"))
	assert.False(t, p.SupportsModel(core.CapabilityEmbeddings, "gpt-x"))
	assert.True(t, p.SupportsModel(core.CapabilityEmbeddings, "text-embedding-3-small"))
	assert.False(t, p.SupportsModel(core.CapabilityChat, "text-embedding-3-small"))
	assert.False(t, p.SupportsModel(core.CapabilityChat, ""))

	ollama := New(Ollama, providers.BuildOptions{})
	assert.True(t, ollama.SupportsModel(core.CapabilityEmbeddings, "llama3"))
}

func TestOptionProfile_OSeries(t *testing.T) {
	p := New(OpenAI, providers.BuildOptions{})
	assert.True(t, p.OptionProfile("gpt-4o").Supported[core.OptionTemperature])
	assert.False(t, p.OptionProfile("o3-mini").Supported[core.OptionTemperature])

	maxTokens := 100
	native := ToNative(&core.ChatRequest{Model: "o3-mini", MaxTokens: &maxTokens})
	assert.Nil(t, native.MaxTokens)
	assert.Equal(t, 100, *native.MaxCompletionTokens)
}

func TestBaseURLResolution(t *testing.T) {
	p := New(OpenAI, providers.BuildOptions{BaseURL: "http://env-override/v1/"})

	assert.Equal(t, "http://env-override/v1", p.BaseURL(core.Credential{}, nil))
	assert.Equal(t, "http://endpoint/v1", p.BaseURL(core.Credential{}, core.Options{"base_url": "http://endpoint/v1"}))
	assert.Equal(t, "http://cred/v1", p.BaseURL(
		core.Credential{Metadata: map[string]string{core.MetadataBaseURL: "http://cred/v1"}},
		core.Options{"base_url": "http://endpoint/v1"},
	))
}

func TestAuthorize(t *testing.T) {
	p := New(OpenAI, providers.BuildOptions{})
	h := http.Header{}
	p.Authorize(h, core.Credential{Secret: []byte("sk-x"), Metadata: map[string]string{"organization": "org-1"}}, nil)
	assert.Equal(t, "Bearer sk-x", h.Get("Authorization"))
	assert.Equal(t, "org-1", h.Get("OpenAI-Organization"))
	assert.Contains(t, p.AuthHeaders(), "Authorization")
}

func TestChat_ForwardsRequestID(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Client-Request-Id"))
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	ctx := core.WithRequestID(context.Background(), "req-123")
	_, err := New(OpenAI, providers.BuildOptions{}).Chat(ctx, testCall(server.URL), helloRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-123", got.Load())
	assert.False(t, isValidClientRequestID(strings.Repeat("x", 513)))
}

func TestChat_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(OpenAI, providers.BuildOptions{}).Chat(ctx, testCall("http://127.0.0.1:1"), helloRequest())
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
