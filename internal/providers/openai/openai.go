// Package openai provides the OpenAI-style adapter. The same adapter serves
// every provider whose API follows the Chat Completions wire format.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"aigateway/internal/core"
	"aigateway/internal/pkg/llmclient"
	"aigateway/internal/pkg/sse"
	"aigateway/internal/providers"
)

// Variant describes one OpenAI-compatible provider kind
type Variant struct {
	Kind           core.ProviderKind
	DefaultBaseURL string
	Capabilities   core.CapabilitySet
	// Profile returns the option table for a model
	Profile func(modelID string) core.OptionProfile
	// Serves reports whether a model is served for a capability
	Serves func(c core.Capability, modelID string) bool
	// StreamUsage asks the provider for a trailing usage chunk
	StreamUsage bool
}

// Registration provides factory registration for the OpenAI provider.
var Registration = VariantRegistration(OpenAI)

// VariantRegistration builds a factory registration for v
func VariantRegistration(v Variant) providers.Registration {
	return providers.Registration{
		Kind: v.Kind,
		New: func(opts providers.BuildOptions) (core.Adapter, error) {
			return New(v, opts), nil
		},
	}
}

// Provider implements core.Adapter and core.PassthroughTarget
type Provider struct {
	variant Variant
	client  *llmclient.Client
}

var (
	_ core.Adapter           = (*Provider)(nil)
	_ core.PassthroughTarget = (*Provider)(nil)
)

// New creates an adapter for variant v
func New(v Variant, opts providers.BuildOptions) *Provider {
	baseURL := v.DefaultBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	cfg := llmclient.Config{
		ProviderName:   string(v.Kind),
		BaseURL:        baseURL,
		CircuitBreaker: opts.CircuitBreaker,
		Transport:      opts.Transport,
	}
	p := &Provider{variant: v}
	if opts.HTTPClient != nil {
		p.client = llmclient.NewWithHTTPClient(opts.HTTPClient, cfg, setRequestID)
	} else {
		p.client = llmclient.New(cfg, setRequestID)
	}
	return p
}

// setRequestID forwards the gateway request ID using OpenAI's
// X-Client-Request-Id header, which must be ASCII and at most 512 bytes.
func setRequestID(req *http.Request) {
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// Prune implements providers.Pruner
func (p *Provider) Prune(keep func(credentialID string) bool) {
	p.client.Prune(keep)
}

// Kind implements core.Adapter
func (p *Provider) Kind() core.ProviderKind { return p.variant.Kind }

// Capabilities implements core.Adapter
func (p *Provider) Capabilities() core.CapabilitySet { return p.variant.Capabilities }

// SupportsModel implements core.Adapter
func (p *Provider) SupportsModel(c core.Capability, modelID string) bool {
	if modelID == "" || !p.variant.Capabilities.Has(c) {
		return false
	}
	if p.variant.Serves == nil {
		return true
	}
	return p.variant.Serves(c, modelID)
}

// OptionProfile implements core.Adapter
func (p *Provider) OptionProfile(modelID string) core.OptionProfile {
	return p.variant.Profile(modelID)
}

// BaseURL implements core.PassthroughTarget. A credential's base_url
// metadata wins over the endpoint option, which wins over the default.
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
	if len(cred.Secret) > 0 {
		h.Set("Authorization", "Bearer "+string(cred.Secret))
	}
	if org := cred.Metadata["organization"]; org != "" {
		h.Set("OpenAI-Organization", org)
	}
}

// AuthHeaders implements core.PassthroughTarget
func (p *Provider) AuthHeaders() []string {
	return []string{"Authorization", "OpenAI-Organization", "Api-Key"}
}

func (p *Provider) request(call core.Call, endpoint string, body any) llmclient.Request {
	h := http.Header{}
	p.Authorize(h, call.Credential, call.Endpoint.Options)
	headers := make(map[string]string, len(h))
	for k := range h {
		headers[k] = h.Get(k)
	}
	return llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		BaseURL:  p.BaseURL(call.Credential, call.Endpoint.Options),
		Body:     body,
		Headers:  headers,
		Account:  call.Credential.ID,
	}
}

// Chat implements core.Adapter
func (p *Provider) Chat(ctx context.Context, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
	native := ToNative(req)
	native.Stream = false

	var resp chatResponse
	if err := p.client.Do(ctx, p.request(call, "/chat/completions", native), &resp); err != nil {
		return nil, err
	}
	out := FromNative(&resp, req.Model)
	out.Provider = string(p.variant.Kind)
	return out, nil
}

// StreamChat implements core.Adapter
func (p *Provider) StreamChat(ctx context.Context, call core.Call, req *core.ChatRequest) (core.ChunkStream, error) {
	native := ToNative(req)
	native.Stream = true
	if p.variant.StreamUsage {
		native.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	body, err := p.client.DoStream(streamCtx, p.request(call, "/chat/completions", native))
	if err != nil {
		cancel()
		return nil, err
	}
	return providers.NewSSEStream(streamCtx, string(p.variant.Kind), body, cancel, p.decodeEvent), nil
}

func (p *Provider) decodeEvent(ev *sse.Event) ([]*core.Chunk, bool, error) {
	if sse.IsDone(ev.Data) {
		return nil, true, nil
	}
	if e := gjson.GetBytes(ev.Data, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return nil, false, core.NewUpstreamUnavailableError(string(p.variant.Kind), msg, nil)
	}
	var c chunkResponse
	if err := json.Unmarshal(ev.Data, &c); err != nil {
		return nil, false, core.NewTranslationError(string(p.variant.Kind), "failed to decode stream chunk: "+err.Error())
	}
	return ChunkFromNative(&c), false, nil
}

// Embeddings implements core.Adapter
func (p *Provider) Embeddings(ctx context.Context, call core.Call, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	if !p.variant.Capabilities.Has(core.CapabilityEmbeddings) {
		return nil, core.NewCapabilityUnsupportedError(p.variant.Kind, core.CapabilityEmbeddings)
	}
	var resp embeddingResponse
	if err := p.client.Do(ctx, p.request(call, "/embeddings", EmbeddingsToNative(req)), &resp); err != nil {
		return nil, err
	}
	out := EmbeddingsFromNative(&resp, req.Model)
	out.Provider = string(p.variant.Kind)
	return out, nil
}
