package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
	"aigateway/internal/endpoints"
	"aigateway/internal/providers"
	"aigateway/internal/providers/openai"
	"aigateway/internal/snapshot"
	"aigateway/internal/translate"
	"aigateway/internal/usage"
	"aigateway/internal/vault"
)

const scriptedKind core.ProviderKind = "scripted"

// scriptedAdapter answers from callbacks and counts the calls it receives.
type scriptedAdapter struct {
	profile core.OptionProfile
	caps    core.CapabilitySet

	calls  atomic.Int32
	chat   func(n int, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error)
	stream func(n int, call core.Call, req *core.ChatRequest) (core.ChunkStream, error)
	embed  func(n int, call core.Call, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error)
}

func newScripted() *scriptedAdapter {
	return &scriptedAdapter{
		caps: core.NewCapabilitySet(core.CapabilityChat, core.CapabilityEmbeddings),
		profile: core.OptionProfile{
			Provider:  scriptedKind,
			Supported: translate.Supports(core.OptionTemperature, core.OptionMaxTokens),
			Ranges:    map[core.Option]core.Range{core.OptionTemperature: {Min: 0, Max: 1}},
		},
		chat: func(_ int, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
			return reply(req.Model, "ok"), nil
		},
	}
}

func reply(model, text string) *core.ChatResponse {
	return &core.ChatResponse{
		ID:    "resp-1",
		Model: model,
		Choices: []core.Choice{{
			Message:      core.Message{Role: core.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
		Usage: core.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
}

func (s *scriptedAdapter) Kind() core.ProviderKind                    { return scriptedKind }
func (s *scriptedAdapter) Capabilities() core.CapabilitySet           { return s.caps }
func (s *scriptedAdapter) SupportsModel(core.Capability, string) bool { return true }
func (s *scriptedAdapter) OptionProfile(string) core.OptionProfile    { return s.profile }

func (s *scriptedAdapter) Chat(_ context.Context, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
	return s.chat(int(s.calls.Add(1)), call, req)
}

func (s *scriptedAdapter) StreamChat(_ context.Context, call core.Call, req *core.ChatRequest) (core.ChunkStream, error) {
	return s.stream(int(s.calls.Add(1)), call, req)
}

func (s *scriptedAdapter) Embeddings(_ context.Context, call core.Call, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return s.embed(int(s.calls.Add(1)), call, req)
}

type recordingUsage struct {
	mu      sync.Mutex
	entries []*usage.UsageEntry
}

func (r *recordingUsage) Record(e *usage.UsageEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingUsage) Close() error { return nil }

func (r *recordingUsage) last() *usage.UsageEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type fixture struct {
	holder   *snapshot.Holder
	vault    *vault.Vault
	registry *endpoints.Registry
	router   *Router
	usage    *recordingUsage
	credID   string
}

func newFixture(t *testing.T, adapters ...core.Adapter) *fixture {
	t.Helper()
	set := providers.NewSet(adapters...)
	holder := snapshot.NewHolder()
	v := vault.New(holder, nil, vault.Config{KnownKind: set.KnownKind})
	reg := endpoints.New(holder, nil, endpoints.Config{Checker: set, ValidateOptions: ValidateOptions})
	rec := &recordingUsage{}
	f := &fixture{
		holder:   holder,
		vault:    v,
		registry: reg,
		usage:    rec,
		router:   New(holder, set, Config{RetryBackoff: time.Millisecond, Usage: rec}),
	}
	if len(adapters) > 0 {
		id, err := v.Put(context.Background(), adapters[0].Kind(), []byte("secret"), nil)
		require.NoError(t, err)
		f.credID = id
	}
	return f
}

func (f *fixture) createEndpoint(t *testing.T, name string, opts core.Options) {
	t.Helper()
	_, err := f.registry.Create(context.Background(), name, endpoints.Spec{
		ProviderKind: scriptedKind, ModelID: "model-1", CredentialRef: f.credID, Options: opts,
	})
	require.NoError(t, err)
}

func hello() *core.ChatRequest {
	return &core.ChatRequest{Messages: []core.Message{{Role: core.RoleUser, Content: "Hello!"}}}
}

func TestChat_HelloScenario(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-x","created":1,
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`)
	}))
	defer upstream.Close()

	f := newFixture(t, openai.New(openai.OpenAI, providers.BuildOptions{}))
	ctx := context.Background()
	credID, err := f.vault.Put(ctx, core.ProviderOpenAI, []byte("sk-test"), map[string]string{core.MetadataBaseURL: upstream.URL})
	require.NoError(t, err)
	_, err = f.registry.Create(ctx, "my-chat", endpoints.Spec{ProviderKind: core.ProviderOpenAI, ModelID: "gpt-x", CredentialRef: credID})
	require.NoError(t, err)

	resp, err := f.router.Chat(ctx, "my-chat", hello())
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, core.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "Hi!", resp.Text())
	assert.Empty(t, resp.Warnings)

	entry := f.usage.last()
	require.NotNil(t, entry)
	assert.Equal(t, "my-chat", entry.Endpoint)
	assert.Equal(t, usage.StatusOK, entry.Status)
	assert.Equal(t, 3, entry.TotalTokens)
}

func TestResolution_Failures(t *testing.T) {
	adapter := newScripted()
	adapter.caps = core.NewCapabilitySet(core.CapabilityChat)
	f := newFixture(t, adapter)
	f.createEndpoint(t, "chat-only", nil)

	_, err := f.router.Chat(context.Background(), "missing", hello())
	require.ErrorIs(t, err, core.ErrEndpointNotFound)

	_, err = f.router.Embeddings(context.Background(), "chat-only", &core.EmbeddingRequest{Input: []string{"x"}})
	require.ErrorIs(t, err, core.ErrCapabilityUnsupported)

	// a dangling reference can only appear through a wholesale reload
	f.holder.Replace([]core.Endpoint{{Name: "dangling", ProviderKind: scriptedKind, ModelID: "m", CredentialRef: "gone"}}, nil)
	_, err = f.router.Chat(context.Background(), "dangling", hello())
	require.ErrorIs(t, err, core.ErrCredentialMissing)

	assert.Zero(t, adapter.calls.Load())
	assert.Equal(t, string(core.CodeCredentialMissing), f.usage.last().Status)
}

func TestChat_UsesEndpointModelAndCredential(t *testing.T) {
	adapter := newScripted()
	var seen core.Call
	var seenModel string
	adapter.chat = func(_ int, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
		seen, seenModel = call, req.Model
		return reply(req.Model, "ok"), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	req := hello()
	req.Model = "ep"
	_, err := f.router.Chat(context.Background(), "ep", req)
	require.NoError(t, err)
	assert.Equal(t, "model-1", seenModel)
	assert.Equal(t, "ep", req.Model, "caller request must not be modified")
	assert.Equal(t, f.credID, seen.Credential.ID)
	assert.Equal(t, []byte("secret"), seen.Credential.Secret)
}

func TestChat_RetriesOnceOnUnavailable(t *testing.T) {
	adapter := newScripted()
	adapter.chat = func(n int, _ core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
		if n == 1 {
			return nil, core.NewUpstreamUnavailableError("scripted", "connection refused", nil)
		}
		return reply(req.Model, "second time lucky"), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	resp, err := f.router.Chat(context.Background(), "ep", hello())
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", resp.Text())
	assert.EqualValues(t, 2, adapter.calls.Load())
	assert.Equal(t, 2, f.usage.last().Attempts)
}

func TestChat_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"unavailable twice", core.NewUpstreamUnavailableError("scripted", "down", nil), 2},
		{"timeout twice", core.NewUpstreamTimeoutError("scripted", "slow", nil), 2},
		{"rejected", core.NewUpstreamRejectedError("scripted", http.StatusBadRequest, "bad model", nil), 1},
		{"translation", core.NewTranslationError("scripted", "cannot map"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newScripted()
			adapter.chat = func(int, core.Call, *core.ChatRequest) (*core.ChatResponse, error) { return nil, tt.err }
			f := newFixture(t, adapter)
			f.createEndpoint(t, "ep", nil)

			_, err := f.router.Chat(context.Background(), "ep", hello())
			require.Error(t, err)
			assert.Equal(t, core.CodeOf(tt.err), core.CodeOf(err))
			assert.Equal(t, tt.wantCalls, adapter.calls.Load())
		})
	}
}

func TestChat_NoRetryAfterCallerCancels(t *testing.T) {
	adapter := newScripted()
	ctx, cancel := context.WithCancel(context.Background())
	adapter.chat = func(int, core.Call, *core.ChatRequest) (*core.ChatResponse, error) {
		cancel()
		return nil, core.NewUpstreamUnavailableError("scripted", "reset", nil)
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	_, err := f.router.Chat(ctx, "ep", hello())
	require.Error(t, err)
	assert.EqualValues(t, 1, adapter.calls.Load())
}

func TestChat_RequestTimeoutPerAttempt(t *testing.T) {
	adapter := newScripted()
	adapter.chat = func(int, core.Call, *core.ChatRequest) (*core.ChatResponse, error) {
		return nil, core.NewUpstreamTimeoutError("scripted", "deadline", context.DeadlineExceeded)
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", core.Options{OptionRequestTimeout: 0.5})

	var deadlines []time.Duration
	f.router.adapters = providers.NewSet(&deadlineAdapter{scriptedAdapter: adapter, observe: func(d time.Duration) {
		deadlines = append(deadlines, d)
	}})

	_, err := f.router.Chat(context.Background(), "ep", hello())
	require.ErrorIs(t, err, core.ErrUpstreamTimeout)
	require.Len(t, deadlines, 2)
	for _, d := range deadlines {
		assert.LessOrEqual(t, d, 500*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}

type deadlineAdapter struct {
	*scriptedAdapter
	observe func(time.Duration)
}

func (d *deadlineAdapter) Chat(ctx context.Context, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.observe(time.Until(dl))
	}
	return d.scriptedAdapter.Chat(ctx, call, req)
}

func TestChat_OptionPolicy(t *testing.T) {
	topK := 5
	temp := 0.3
	newReq := func() *core.ChatRequest {
		req := hello()
		req.TopK = &topK
		req.Temperature = &temp
		return req
	}

	t.Run("lenient drops with warning", func(t *testing.T) {
		adapter := newScripted()
		var forwarded *core.ChatRequest
		adapter.chat = func(_ int, _ core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
			forwarded = req
			return reply(req.Model, "ok"), nil
		}
		f := newFixture(t, adapter)
		f.createEndpoint(t, "ep", nil)

		resp, err := f.router.Chat(context.Background(), "ep", newReq())
		require.NoError(t, err)
		require.Len(t, resp.Warnings, 1)
		assert.Contains(t, resp.Warnings[0], "top_k")
		assert.Nil(t, forwarded.TopK)
		assert.Equal(t, 0.3, *forwarded.Temperature)
	})

	t.Run("strict endpoint rejects", func(t *testing.T) {
		adapter := newScripted()
		f := newFixture(t, adapter)
		f.createEndpoint(t, "strict-ep", core.Options{OptionStrict: true})

		_, err := f.router.Chat(context.Background(), "strict-ep", newReq())
		require.ErrorIs(t, err, core.ErrTranslation)
		assert.Zero(t, adapter.calls.Load())
	})

	t.Run("required option rejects", func(t *testing.T) {
		adapter := newScripted()
		f := newFixture(t, adapter)
		f.createEndpoint(t, "ep", nil)

		req := newReq()
		req.RequiredOptions = []string{"top_k"}
		_, err := f.router.Chat(context.Background(), "ep", req)
		require.ErrorIs(t, err, core.ErrTranslation)
		assert.Zero(t, adapter.calls.Load())
	})

	t.Run("out of range rejects", func(t *testing.T) {
		adapter := newScripted()
		f := newFixture(t, adapter)
		f.createEndpoint(t, "ep", nil)

		hot := 1.5
		req := hello()
		req.Temperature = &hot
		_, err := f.router.Chat(context.Background(), "ep", req)
		require.ErrorIs(t, err, core.ErrTranslation)
	})
}

func TestChat_RateLimit(t *testing.T) {
	adapter := newScripted()
	f := newFixture(t, adapter)
	f.createEndpoint(t, "limited", core.Options{OptionRateLimit: map[string]any{"calls": 1, "renewal_period": "hour"}})
	f.createEndpoint(t, "free", nil)

	_, err := f.router.Chat(context.Background(), "limited", hello())
	require.NoError(t, err)
	_, err = f.router.Chat(context.Background(), "limited", hello())
	require.ErrorIs(t, err, core.ErrRateLimited)

	_, err = f.router.Chat(context.Background(), "free", hello())
	require.NoError(t, err)

	// raising the limit starts a fresh bucket
	_, err = f.registry.Update(context.Background(), "limited", endpoints.Spec{
		ProviderKind: scriptedKind, ModelID: "model-1", CredentialRef: f.credID,
		Options: core.Options{OptionRateLimit: map[string]any{"calls": 2, "renewal_period": "hour"}},
	})
	require.NoError(t, err)
	_, err = f.router.Chat(context.Background(), "limited", hello())
	require.NoError(t, err)
}

func TestChat_InFlightCallKeepsItsSnapshot(t *testing.T) {
	adapter := newScripted()
	entered := make(chan struct{})
	release := make(chan struct{})
	adapter.chat = func(n int, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
		if n == 1 {
			close(entered)
			<-release
		}
		return reply(req.Model, call.Endpoint.ModelID), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	done := make(chan *core.ChatResponse)
	go func() {
		resp, err := f.router.Chat(context.Background(), "ep", hello())
		assert.NoError(t, err)
		done <- resp
	}()
	<-entered

	_, err := f.registry.Update(context.Background(), "ep", endpoints.Spec{ProviderKind: scriptedKind, ModelID: "model-2", CredentialRef: f.credID})
	require.NoError(t, err)
	after, err := f.router.Chat(context.Background(), "ep", hello())
	require.NoError(t, err)
	assert.Equal(t, "model-2", after.Text())

	close(release)
	assert.Equal(t, "model-1", (<-done).Text())
}

func TestChat_ZeroDowntimeUnderConcurrentMutation(t *testing.T) {
	adapter := newScripted()
	f := newFixture(t, adapter)
	f.createEndpoint(t, "stable", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if _, err := f.router.Chat(context.Background(), "stable", hello()); err != nil {
					failures.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		spec := endpoints.Spec{ProviderKind: scriptedKind, ModelID: fmt.Sprintf("model-%d", i), CredentialRef: f.credID}
		_, err := f.registry.Create(context.Background(), "churn", spec)
		require.NoError(t, err)
		_, err = f.registry.Update(context.Background(), "churn", spec)
		require.NoError(t, err)
		require.NoError(t, f.registry.Delete(context.Background(), "churn"))
	}
	cancel()
	wg.Wait()

	assert.Zero(t, failures.Load())
}

func chunk(delta string) *core.Chunk {
	return &core.Chunk{ID: "s-1", Delta: delta}
}

func TestStream_RecordsUsageAtEnd(t *testing.T) {
	adapter := newScripted()
	adapter.stream = func(n int, _ core.Call, _ *core.ChatRequest) (core.ChunkStream, error) {
		if n == 1 {
			return nil, core.NewUpstreamUnavailableError("scripted", "refused", nil)
		}
		last := &core.Chunk{ID: "s-1", FinishReason: "stop", Usage: &core.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}}
		return providers.NewSliceStream([]*core.Chunk{chunk("Hel"), chunk("lo"), last}, nil), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)
	assert.Equal(t, "ep", stream.Endpoint.Name)

	resp, err := providers.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text())

	entry := f.usage.last()
	require.NotNil(t, entry)
	assert.Equal(t, usage.OperationStream, entry.Operation)
	assert.Equal(t, usage.StatusOK, entry.Status)
	assert.Equal(t, 3, entry.TotalTokens)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, "s-1", entry.ProviderID)
}

func TestStream_MidStreamErrorIsNotRetried(t *testing.T) {
	adapter := newScripted()
	adapter.stream = func(int, core.Call, *core.ChatRequest) (core.ChunkStream, error) {
		return providers.NewSliceStream([]*core.Chunk{chunk("partial")},
			core.NewUpstreamUnavailableError("scripted", "connection reset", nil)), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)
	_, err = providers.Collect(stream)
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.EqualValues(t, 1, adapter.calls.Load())
	assert.Equal(t, string(core.CodeUpstreamUnavailable), f.usage.last().Status)
}

func TestStream_EarlyCloseIsCanceled(t *testing.T) {
	adapter := newScripted()
	adapter.stream = func(int, core.Call, *core.ChatRequest) (core.ChunkStream, error) {
		return providers.NewSliceStream([]*core.Chunk{chunk("a"), chunk("b")}, nil), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", nil)

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.Equal(t, "canceled", f.usage.last().Status)
	assert.Len(t, f.usage.entries, 1)
}

// stallingAdapter hands StreamChat's context to its script, so a stream can
// block until the router gives up on it.
type stallingAdapter struct {
	*scriptedAdapter
	open func(ctx context.Context, n int) (core.ChunkStream, error)
}

func (s *stallingAdapter) StreamChat(ctx context.Context, _ core.Call, _ *core.ChatRequest) (core.ChunkStream, error) {
	return s.open(ctx, int(s.calls.Add(1)))
}

type waitStream struct{ ctx context.Context }

func (w waitStream) Recv() (*core.Chunk, error) {
	<-w.ctx.Done()
	return nil, w.ctx.Err()
}

func (w waitStream) Close() error { return nil }

func TestStream_StalledOpenTimesOutAndRetries(t *testing.T) {
	adapter := &stallingAdapter{scriptedAdapter: newScripted()}
	adapter.open = func(ctx context.Context, n int) (core.ChunkStream, error) {
		if n == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return providers.NewSliceStream([]*core.Chunk{chunk("late")}, nil), nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", core.Options{OptionRequestTimeout: 0.05})

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)
	resp, err := providers.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "late", resp.Text())
	assert.EqualValues(t, 2, adapter.calls.Load())
}

func TestStream_FirstChunkTimeout(t *testing.T) {
	adapter := &stallingAdapter{scriptedAdapter: newScripted()}
	adapter.open = func(ctx context.Context, _ int) (core.ChunkStream, error) {
		return waitStream{ctx: ctx}, nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", core.Options{OptionRequestTimeout: 0.05})

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)

	start := time.Now()
	_, err = stream.Recv()
	require.ErrorIs(t, err, core.ErrUpstreamTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NoError(t, stream.Close())
}

func TestStream_TimeoutDoesNotCutFlowingStream(t *testing.T) {
	adapter := &stallingAdapter{scriptedAdapter: newScripted()}
	adapter.open = func(ctx context.Context, _ int) (core.ChunkStream, error) {
		chunks := []*core.Chunk{chunk("a"), chunk("b"), chunk("c"), chunk("d")}
		return &pacedStream{ctx: ctx, chunks: chunks, pause: 60 * time.Millisecond}, nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "ep", core.Options{OptionRequestTimeout: 0.1})

	stream, err := f.router.Stream(context.Background(), "ep", hello())
	require.NoError(t, err)
	resp, err := providers.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "abcd", resp.Text())
}

// pacedStream yields its chunks with a pause before each, failing if its
// context ends first.
type pacedStream struct {
	ctx    context.Context
	chunks []*core.Chunk
	pause  time.Duration
}

func (p *pacedStream) Recv() (*core.Chunk, error) {
	if len(p.chunks) == 0 {
		return nil, io.EOF
	}
	select {
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	case <-time.After(p.pause):
	}
	c := p.chunks[0]
	p.chunks = p.chunks[1:]
	return c, nil
}

func (p *pacedStream) Close() error { return nil }

func TestEmbeddings(t *testing.T) {
	adapter := newScripted()
	adapter.embed = func(_ int, _ core.Call, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
		resp := &core.EmbeddingResponse{Object: "list", Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, core.EmbeddingData{Object: "embedding", Embedding: []float64{1}, Index: i})
		}
		resp.Usage = core.EmbeddingUsage{PromptTokens: 4, TotalTokens: 4}
		return resp, nil
	}
	f := newFixture(t, adapter)
	f.createEndpoint(t, "emb", nil)

	resp, err := f.router.Embeddings(context.Background(), "emb", &core.EmbeddingRequest{Model: "emb", Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "model-1", resp.Model)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 4, f.usage.last().InputTokens)

	_, err = f.router.Embeddings(context.Background(), "emb", &core.EmbeddingRequest{})
	require.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    core.Options
		wantErr bool
	}{
		{"empty", nil, false},
		{"rate limit", core.Options{OptionRateLimit: map[string]any{"calls": float64(10), "renewal_period": "minute"}}, false},
		{"rate limit default period", core.Options{OptionRateLimit: map[string]any{"calls": 3}}, false},
		{"rate limit zero calls", core.Options{OptionRateLimit: map[string]any{"calls": 0}}, true},
		{"rate limit fractional calls", core.Options{OptionRateLimit: map[string]any{"calls": 1.5}}, true},
		{"rate limit bad period", core.Options{OptionRateLimit: map[string]any{"calls": 1, "renewal_period": "fortnight"}}, true},
		{"rate limit not object", core.Options{OptionRateLimit: "10/minute"}, true},
		{"strict bool", core.Options{OptionStrict: true}, false},
		{"strict string", core.Options{OptionStrict: "yes"}, true},
		{"timeout", core.Options{OptionRequestTimeout: float64(30)}, false},
		{"negative timeout", core.Options{OptionRequestTimeout: float64(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOptions(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRegistryRejectsInvalidRouterOptions(t *testing.T) {
	f := newFixture(t, newScripted())
	_, err := f.registry.Create(context.Background(), "bad", endpoints.Spec{
		ProviderKind: scriptedKind, ModelID: "m", CredentialRef: f.credID,
		Options: core.Options{OptionStrict: "always"},
	})
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestNew_BoundsBackoff(t *testing.T) {
	holder := snapshot.NewHolder()
	assert.Equal(t, DefaultRetryBackoff, New(holder, providers.NewSet(), Config{}).backoff)
	assert.Equal(t, MaxRetryBackoff, New(holder, providers.NewSet(), Config{RetryBackoff: time.Minute}).backoff)
	assert.True(t, errors.Is(core.NewRateLimitedError("x"), core.ErrRateLimited))
}
