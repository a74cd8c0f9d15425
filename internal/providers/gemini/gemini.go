// Package gemini provides Google Gemini integration. Chat and embeddings
// go through Gemini's OpenAI-compatible surface; passthrough targets the
// native API root.
package gemini

import (
	"net/http"
	"strings"

	"aigateway/internal/core"
	"aigateway/internal/providers"
	"aigateway/internal/providers/openai"
	"aigateway/internal/translate"
)

const (
	// Gemini provides an OpenAI-compatible endpoint
	defaultOpenAICompatibleBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	// Native API root used by passthrough calls
	defaultNativeBaseURL = "https://generativelanguage.googleapis.com"

	// optionNativeBaseURL overrides the passthrough root per endpoint
	optionNativeBaseURL = "native_base_url"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Kind: core.ProviderGemini,
	New: func(opts providers.BuildOptions) (core.Adapter, error) {
		return New(opts), nil
	},
}

var variant = openai.Variant{
	Kind:           core.ProviderGemini,
	DefaultBaseURL: defaultOpenAICompatibleBaseURL,
	Capabilities:   core.NewCapabilitySet(core.CapabilityChat, core.CapabilityEmbeddings),
	Serves:         serves,
	StreamUsage:    true,
	Profile: func(string) core.OptionProfile {
		return profile
	},
}

var profile = core.OptionProfile{
	Provider: core.ProviderGemini,
	Supported: translate.Supports(
		core.OptionTemperature, core.OptionTopP, core.OptionMaxTokens, core.OptionN,
		core.OptionStop, core.OptionPresencePenalty, core.OptionFrequencyPenalty, core.OptionSeed,
	),
	Ranges: map[core.Option]core.Range{
		core.OptionTemperature:      {Min: 0, Max: 2},
		core.OptionTopP:             {Min: 0, Max: 1},
		core.OptionMaxTokens:        {Min: 1, Max: 65536},
		core.OptionN:                {Min: 1, Max: 8},
		core.OptionStop:             {Min: 0, Max: 5},
		core.OptionPresencePenalty:  {Min: -2, Max: 2},
		core.OptionFrequencyPenalty: {Min: -2, Max: 2},
	},
}

// serves accepts gemini-* and gemma-* chat models and Google's embedding models
func serves(c core.Capability, modelID string) bool {
	m := strings.TrimPrefix(strings.ToLower(modelID), "models/")
	isEmbedding := strings.Contains(m, "embedding")
	if c == core.CapabilityEmbeddings {
		return isEmbedding
	}
	return !isEmbedding && (strings.HasPrefix(m, "gemini-") || strings.HasPrefix(m, "gemma-"))
}

// Provider wraps the OpenAI-compatible adapter and replaces its passthrough view
type Provider struct {
	*openai.Provider
}

var (
	_ core.Adapter           = (*Provider)(nil)
	_ core.PassthroughTarget = (*Provider)(nil)
)

// New creates a new Gemini provider
func New(opts providers.BuildOptions) *Provider {
	return &Provider{Provider: openai.New(variant, opts)}
}

// BaseURL implements core.PassthroughTarget with the native API root
func (p *Provider) BaseURL(_ core.Credential, opts core.Options) string {
	if u := opts.String(optionNativeBaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultNativeBaseURL
}

// Authorize implements core.PassthroughTarget
func (p *Provider) Authorize(h http.Header, cred core.Credential, _ core.Options) {
	h.Set("x-goog-api-key", string(cred.Secret))
}

// AuthHeaders implements core.PassthroughTarget
func (p *Provider) AuthHeaders() []string {
	return []string{"x-goog-api-key", "Authorization"}
}
