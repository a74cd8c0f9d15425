// Package anthropic provides Anthropic Messages API integration for the LLM gateway.
package anthropic

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"aigateway/internal/core"
	"aigateway/internal/pkg/llmclient"
	"aigateway/internal/pkg/sse"
	"aigateway/internal/providers"
	"aigateway/internal/translate"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Kind: core.ProviderAnthropic,
	New: func(opts providers.BuildOptions) (core.Adapter, error) {
		return New(opts), nil
	},
}

var profile = core.OptionProfile{
	Provider: core.ProviderAnthropic,
	Supported: translate.Supports(
		core.OptionTemperature, core.OptionTopP, core.OptionTopK,
		core.OptionMaxTokens, core.OptionStop, core.OptionUser,
	),
	Ranges: map[core.Option]core.Range{
		core.OptionTemperature: {Min: 0, Max: 1},
		core.OptionTopP:        {Min: 0, Max: 1},
		core.OptionTopK:        {Min: 0, Max: math.MaxInt32},
		core.OptionMaxTokens:   {Min: 1, Max: math.MaxInt32},
	},
}

// Provider implements core.Adapter and core.PassthroughTarget for Anthropic
type Provider struct {
	client *llmclient.Client
}

var (
	_ core.Adapter           = (*Provider)(nil)
	_ core.PassthroughTarget = (*Provider)(nil)
)

// New creates a new Anthropic provider
func New(opts providers.BuildOptions) *Provider {
	baseURL := defaultBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	cfg := llmclient.Config{
		ProviderName:   string(core.ProviderAnthropic),
		BaseURL:        baseURL,
		CircuitBreaker: opts.CircuitBreaker,
		Transport:      opts.Transport,
	}
	if opts.HTTPClient != nil {
		return &Provider{client: llmclient.NewWithHTTPClient(opts.HTTPClient, cfg, setVersion)}
	}
	return &Provider{client: llmclient.New(cfg, setVersion)}
}

func setVersion(req *http.Request) {
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// Prune implements providers.Pruner
func (p *Provider) Prune(keep func(credentialID string) bool) {
	p.client.Prune(keep)
}

// Kind implements core.Adapter
func (p *Provider) Kind() core.ProviderKind { return core.ProviderAnthropic }

// Capabilities implements core.Adapter; Anthropic has no embeddings API
func (p *Provider) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapabilityChat)
}

// SupportsModel implements core.Adapter
func (p *Provider) SupportsModel(c core.Capability, modelID string) bool {
	return c == core.CapabilityChat && strings.HasPrefix(modelID, "claude-")
}

// OptionProfile implements core.Adapter
func (p *Provider) OptionProfile(string) core.OptionProfile { return profile }

// BaseURL implements core.PassthroughTarget
func (p *Provider) BaseURL(cred core.Credential, opts core.Options) string {
	if u := cred.Metadata[core.MetadataBaseURL]; u != "" {
		return strings.TrimRight(u, "/")
	}
	if u := opts.String(core.MetadataBaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return strings.TrimRight(p.client.BaseURL(), "/")
}

// Authorize implements core.PassthroughTarget
func (p *Provider) Authorize(h http.Header, cred core.Credential, _ core.Options) {
	h.Set("x-api-key", string(cred.Secret))
}

// AuthHeaders implements core.PassthroughTarget
func (p *Provider) AuthHeaders() []string {
	return []string{"x-api-key", "Authorization"}
}

func (p *Provider) request(call core.Call, body any) llmclient.Request {
	return llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		BaseURL:  p.BaseURL(call.Credential, call.Endpoint.Options),
		Body:     body,
		Headers:  map[string]string{"x-api-key": string(call.Credential.Secret)},
		Account:  call.Credential.ID,
	}
}

// Chat implements core.Adapter
func (p *Provider) Chat(ctx context.Context, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
	native := ToNative(req)
	native.Stream = false

	var resp anthropicResponse
	if err := p.client.Do(ctx, p.request(call, native), &resp); err != nil {
		return nil, err
	}
	out := FromNative(&resp)
	if out.Model == "" {
		out.Model = req.Model
	}
	out.Provider = string(core.ProviderAnthropic)
	return out, nil
}

// StreamChat implements core.Adapter
func (p *Provider) StreamChat(ctx context.Context, call core.Call, req *core.ChatRequest) (core.ChunkStream, error) {
	native := ToNative(req)
	native.Stream = true

	streamCtx, cancel := context.WithCancel(ctx)
	body, err := p.client.DoStream(streamCtx, p.request(call, native))
	if err != nil {
		cancel()
		return nil, err
	}

	sc := newStreamConverter(req.Model)
	decode := func(ev *sse.Event) ([]*core.Chunk, bool, error) {
		var event anthropicStreamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return nil, false, core.NewTranslationError(string(core.ProviderAnthropic), "failed to decode stream event: "+err.Error())
		}
		if event.Type == "error" {
			msg := "stream failed"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			return nil, false, core.NewUpstreamUnavailableError(string(core.ProviderAnthropic), msg, nil)
		}
		chunks, done := sc.convertEvent(&event)
		return chunks, done, nil
	}
	return providers.NewSSEStream(streamCtx, string(core.ProviderAnthropic), body, cancel, decode), nil
}

// Embeddings implements core.Adapter
func (p *Provider) Embeddings(context.Context, core.Call, *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return nil, core.NewCapabilityUnsupportedError(core.ProviderAnthropic, core.CapabilityEmbeddings)
}
