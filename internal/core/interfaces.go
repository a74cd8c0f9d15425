package core

import (
	"context"
	"net/http"
)

// Call carries everything an adapter needs for one outbound call. The
// credential travels separately from the request options so secret material
// never enters the canonical option mapping.
type Call struct {
	Endpoint   Endpoint
	Credential Credential
}

// Adapter is implemented once per provider kind. Adapters translate through
// their own Translator and never retry; retry policy belongs to the router.
type Adapter interface {
	// Kind returns the provider kind served by this adapter
	Kind() ProviderKind

	// Capabilities returns the static capability set of the provider kind
	Capabilities() CapabilitySet

	// SupportsModel reports whether modelID can be served for capability
	SupportsModel(capability Capability, modelID string) bool

	// OptionProfile describes which canonical options the native API accepts for modelID
	OptionProfile(modelID string) OptionProfile

	// Chat issues a buffered chat call
	Chat(ctx context.Context, call Call, req *ChatRequest) (*ChatResponse, error)

	// StreamChat issues a streaming chat call; the caller must Close the stream
	StreamChat(ctx context.Context, call Call, req *ChatRequest) (ChunkStream, error)

	// Embeddings issues an embeddings call
	Embeddings(ctx context.Context, call Call, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// PassthroughTarget is implemented by adapters whose native API can be
// reached with plain header-based authentication.
type PassthroughTarget interface {
	// BaseURL returns the native API root for the credential and options
	BaseURL(cred Credential, opts Options) string

	// Authorize sets the provider's authentication headers on h
	Authorize(h http.Header, cred Credential, opts Options)

	// AuthHeaders lists every header the provider reads credentials from
	AuthHeaders() []string
}

// ChunkStream is a finite, non-restartable sequence of canonical chunks.
// Recv returns io.EOF after the last chunk. Close cancels the in-flight
// upstream call and releases its connection; it is safe to call twice.
type ChunkStream interface {
	Recv() (*Chunk, error)
	Close() error
}

// Option names a recognized canonical generation option
type Option string

const (
	OptionTemperature      Option = "temperature"
	OptionTopP             Option = "top_p"
	OptionTopK             Option = "top_k"
	OptionMaxTokens        Option = "max_tokens"
	OptionN                Option = "n"
	OptionStop             Option = "stop"
	OptionPresencePenalty  Option = "presence_penalty"
	OptionFrequencyPenalty Option = "frequency_penalty"
	OptionSeed             Option = "seed"
	OptionUser             Option = "user"
	OptionExtra            Option = "extra"
)

// Range bounds a numeric option inclusively
type Range struct {
	Min float64
	Max float64
}

// OptionProfile is the per-provider option table the translator policy runs against
type OptionProfile struct {
	Provider  ProviderKind
	Supported map[Option]bool
	Ranges    map[Option]Range
}
