package core

import (
	"log/slog"
	"sort"
	"time"
)

// ProviderKind identifies the external API family an adapter targets.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderBedrock   ProviderKind = "bedrock"
	ProviderGroq      ProviderKind = "groq"
	ProviderXAI       ProviderKind = "xai"
	ProviderMistral   ProviderKind = "mistral"
	ProviderOllama    ProviderKind = "ollama"
)

// Capability is one operation an adapter can serve.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
	// CapabilityPassthrough is served by adapters implementing PassthroughTarget
	CapabilityPassthrough Capability = "passthrough"
)

// CapabilitySet is a static set of capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// List returns the capabilities in sorted order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c, ok := range s {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Options holds provider-specific endpoint options. Credentials never live here.
type Options map[string]any

// String returns the option as a string, or "" when absent or not a string.
func (o Options) String(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the option as a bool, accepting "true" strings.
func (o Options) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Clone returns a shallow copy of the options.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	cp := make(Options, len(o))
	for k, v := range o {
		cp[k] = v
	}
	return cp
}

// Endpoint binds a stable name to a provider kind, model and credential.
type Endpoint struct {
	Name          string       `json:"name"`
	ProviderKind  ProviderKind `json:"provider"`
	ModelID       string       `json:"model"`
	CredentialRef string       `json:"credential_id"`
	Options       Options      `json:"options,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Credential holds provider secret material. The secret is excluded from JSON
// and from the String form so it cannot leak through logs or responses.
type Credential struct {
	ID           string            `json:"id"`
	ProviderKind ProviderKind      `json:"provider"`
	Secret       []byte            `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// String implements fmt.Stringer without the secret.
func (c Credential) String() string {
	return "Credential{id=" + c.ID + ", provider=" + string(c.ProviderKind) + "}"
}

// LogValue keeps slog from rendering secret material.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// IsDefault reports whether the credential is the provider-wide default.
func (c Credential) IsDefault() bool {
	return c.Metadata[MetadataDefault] == "true"
}

// Info returns the secret-free view of the credential.
func (c Credential) Info() CredentialInfo {
	md := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		md[k] = v
	}
	return CredentialInfo{ID: c.ID, ProviderKind: c.ProviderKind, Metadata: md, CreatedAt: c.CreatedAt}
}

// CredentialInfo is what list operations return.
type CredentialInfo struct {
	ID           string            `json:"id"`
	ProviderKind ProviderKind      `json:"provider"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Well-known credential metadata keys
const (
	MetadataDefault = "default"
	MetadataSource  = "source"
	MetadataBaseURL = "base_url"
	MetadataRegion  = "region"
)
