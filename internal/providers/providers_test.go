package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
)

type fakeAdapter struct {
	kind   core.ProviderKind
	caps   core.CapabilitySet
	prefix string
}

func (f *fakeAdapter) Kind() core.ProviderKind            { return f.kind }
func (f *fakeAdapter) Capabilities() core.CapabilitySet   { return f.caps }
func (f *fakeAdapter) OptionProfile(string) core.OptionProfile { return core.OptionProfile{Provider: f.kind} }
func (f *fakeAdapter) SupportsModel(c core.Capability, model string) bool {
	return f.caps.Has(c) && strings.HasPrefix(model, f.prefix)
}
func (f *fakeAdapter) Chat(context.Context, core.Call, *core.ChatRequest) (*core.ChatResponse, error) {
	return &core.ChatResponse{}, nil
}
func (f *fakeAdapter) StreamChat(context.Context, core.Call, *core.ChatRequest) (core.ChunkStream, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeAdapter) Embeddings(context.Context, core.Call, *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return nil, errors.New("not implemented")
}

type fakeTarget struct{ fakeAdapter }

func (f *fakeTarget) BaseURL(core.Credential, core.Options) string { return "http://upstream" }
func (f *fakeTarget) Authorize(h http.Header, c core.Credential, _ core.Options) {
	h.Set("Authorization", "Bearer "+string(c.Secret))
}
func (f *fakeTarget) AuthHeaders() []string { return []string{"Authorization"} }

func TestProviderFactory_CreateAndBuildSet(t *testing.T) {
	f := NewProviderFactory()
	f.Add(
		Registration{Kind: "alpha", New: func(BuildOptions) (core.Adapter, error) {
			return &fakeAdapter{kind: "alpha", caps: core.NewCapabilitySet(core.CapabilityChat)}, nil
		}},
		Registration{Kind: "beta", New: func(opts BuildOptions) (core.Adapter, error) {
			assert.Equal(t, "http://beta.local", opts.BaseURL)
			return &fakeAdapter{kind: "beta", caps: core.NewCapabilitySet(core.CapabilityEmbeddings)}, nil
		}},
	)

	assert.Equal(t, []core.ProviderKind{"alpha", "beta"}, f.ListRegistered())

	_, err := f.Create("gamma", BuildOptions{})
	require.Error(t, err)

	set, err := f.BuildSet(func(k core.ProviderKind) BuildOptions {
		if k == "beta" {
			return BuildOptions{BaseURL: "http://beta.local"}
		}
		return BuildOptions{}
	})
	require.NoError(t, err)
	assert.True(t, set.KnownKind("alpha"))
	assert.True(t, set.KnownKind("beta"))
	assert.False(t, set.KnownKind("gamma"))
}

func TestProviderFactory_RejectsMismatchedKind(t *testing.T) {
	f := NewProviderFactory()
	f.Add(Registration{Kind: "alpha", New: func(BuildOptions) (core.Adapter, error) {
		return &fakeAdapter{kind: "beta"}, nil
	}})
	_, err := f.Create("alpha", BuildOptions{})
	require.Error(t, err)
}

func TestSet_CheckModel(t *testing.T) {
	set := NewSet(&fakeAdapter{kind: "alpha", caps: core.NewCapabilitySet(core.CapabilityChat), prefix: "a-"})

	require.NoError(t, set.CheckModel("alpha", "a-large"))

	err := set.CheckModel("alpha", "b-large")
	require.ErrorIs(t, err, core.ErrCapabilityMismatch)

	err = set.CheckModel("nope", "a-large")
	require.ErrorIs(t, err, core.ErrCapabilityMismatch)
	assert.Contains(t, err.Error(), "alpha")
}

type pruningAdapter struct {
	fakeAdapter
	held map[string]bool
}

func (p *pruningAdapter) Prune(keep func(string) bool) {
	for id := range p.held {
		if !keep(id) {
			delete(p.held, id)
		}
	}
}

func TestSet_Prune(t *testing.T) {
	pruner := &pruningAdapter{
		fakeAdapter: fakeAdapter{kind: "alpha", caps: core.NewCapabilitySet(core.CapabilityChat)},
		held:        map[string]bool{"a": true, "b": true},
	}
	set := NewSet(pruner, &fakeAdapter{kind: "beta"})

	set.Prune(func(id string) bool { return id == "a" })
	assert.Equal(t, map[string]bool{"a": true}, pruner.held)
}

func TestSet_Supports(t *testing.T) {
	set := NewSet(&fakeAdapter{kind: "alpha", caps: core.NewCapabilitySet(core.CapabilityChat), prefix: ""})
	assert.True(t, set.Supports("alpha", core.CapabilityChat, "m"))
	assert.False(t, set.Supports("alpha", core.CapabilityEmbeddings, "m"))
	assert.False(t, set.Supports("other", core.CapabilityChat, "m"))
}

func TestSet_PassthroughTarget(t *testing.T) {
	set := NewSet(
		&fakeAdapter{kind: "plain"},
		&fakeTarget{fakeAdapter{kind: "proxied"}},
	)
	_, ok := set.PassthroughTarget("plain")
	assert.False(t, ok)

	target, ok := set.PassthroughTarget("proxied")
	require.True(t, ok)
	h := http.Header{}
	target.Authorize(h, core.Credential{Secret: []byte("k")}, nil)
	assert.Equal(t, "Bearer k", h.Get("Authorization"))
}

func TestDiscoverDefaultCredentials(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":        "sk-env",
		"ANTHROPIC_API_KEY":     "${ANTHROPIC_API_KEY}",
		"OLLAMA_BASE_URL":       "http://localhost:11434/v1",
		"GROQ_BASE_URL":         "http://groq.local",
		"AWS_ACCESS_KEY_ID":     "AKIA",
		"AWS_SECRET_ACCESS_KEY": "shh",
		"AWS_DEFAULT_REGION":    "eu-west-1",
	}
	getenv := func(k string) string { return env[k] }

	creds := DiscoverDefaultCredentials(getenv)
	byKind := map[core.ProviderKind]DefaultCredential{}
	for _, c := range creds {
		byKind[c.Kind] = c
	}

	require.Contains(t, byKind, core.ProviderOpenAI)
	assert.Equal(t, "sk-env", string(byKind[core.ProviderOpenAI].Secret))
	assert.NotContains(t, byKind, core.ProviderAnthropic, "unexpanded placeholders are ignored")
	assert.NotContains(t, byKind, core.ProviderGroq, "a base URL alone does not make a credential")

	require.Contains(t, byKind, core.ProviderOllama)
	assert.Equal(t, "http://localhost:11434/v1", byKind[core.ProviderOllama].Metadata[core.MetadataBaseURL])

	require.Contains(t, byKind, core.ProviderBedrock)
	var aws AWSSecret
	require.NoError(t, json.Unmarshal(byKind[core.ProviderBedrock].Secret, &aws))
	assert.Equal(t, "AKIA", aws.AccessKeyID)
	assert.Equal(t, "eu-west-1", byKind[core.ProviderBedrock].Metadata[core.MetadataRegion])

	assert.NotContains(t, byKind[core.ProviderOpenAI].String(), "sk-env")
}

func TestBaseURLOverrides(t *testing.T) {
	got := BaseURLOverrides(func(k string) string {
		if k == "OPENAI_BASE_URL" {
			return " http://proxy.local/v1 "
		}
		return ""
	})
	assert.Equal(t, map[core.ProviderKind]string{core.ProviderOpenAI: "http://proxy.local/v1"}, got)
}

func TestCollect_JoinsSegmentsInIndexOrder(t *testing.T) {
	stream := NewSliceStream([]*core.Chunk{
		{ID: "c1", Model: "m", Index: 1, Delta: "wor"},
		{ID: "c1", Model: "m", Index: 0, Role: core.RoleAssistant, Delta: "Hel"},
		{ID: "c1", Model: "m", Index: 0, Delta: "lo", FinishReason: "stop"},
		{ID: "c1", Model: "m", Index: 1, Delta: "ld", FinishReason: "length"},
		{ID: "c1", Model: "m", Done: true, Usage: &core.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}},
	}, nil)

	resp, err := Collect(stream)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 2)
	assert.Equal(t, "Hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "world", resp.Choices[1].Message.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, "c1", resp.ID)
}

func TestCollect_PropagatesStreamError(t *testing.T) {
	boom := core.NewUpstreamUnavailableError("p", "reset", nil)
	_, err := Collect(NewSliceStream([]*core.Chunk{{Delta: "partial"}}, boom))
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}
