// Package bedrock provides an AWS Bedrock adapter backed by the Converse API.
// Embeddings go through InvokeModel for the Titan and Cohere embedding models.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cespare/xxhash/v2"

	"aigateway/internal/core"
	"aigateway/internal/httpclient"
	"aigateway/internal/providers"
	"aigateway/internal/translate"
)

const (
	providerName  = string(core.ProviderBedrock)
	defaultRegion = "us-east-1"
)

// RuntimeClient is the subset of the Bedrock runtime used by the adapter.
// ConverseStream returns StreamOutput so tests can fake the event stream.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// StreamOutput is satisfied by *bedrockruntime.ConverseStreamOutput
type StreamOutput interface {
	GetStream() *bedrockruntime.ConverseStreamEventStream
}

// RuntimeFactory builds a runtime client for one credential and region
type RuntimeFactory func(cred core.Credential, region, baseURL string) (RuntimeClient, error)

// Registration provides factory registration for the Bedrock provider.
var Registration = providers.Registration{
	Kind: core.ProviderBedrock,
	New: func(opts providers.BuildOptions) (core.Adapter, error) {
		return New(opts, nil), nil
	},
}

var profile = core.OptionProfile{
	Provider: core.ProviderBedrock,
	Supported: translate.Supports(
		core.OptionTemperature, core.OptionTopP, core.OptionMaxTokens, core.OptionStop,
	),
	Ranges: map[core.Option]core.Range{
		core.OptionTemperature: {Min: 0, Max: 1},
		core.OptionTopP:        {Min: 0, Max: 1},
		core.OptionMaxTokens:   {Min: 1, Max: math.MaxInt32},
		core.OptionStop:        {Min: 0, Max: 4},
	},
}

// Provider implements core.Adapter for Bedrock. Requests are SigV4 signed,
// so Bedrock is not a passthrough target.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	newRuntime RuntimeFactory

	mu      sync.Mutex
	clients map[string]cachedRuntime
}

// cachedRuntime is the client built for one credential. fingerprint covers
// everything the client was built from.
type cachedRuntime struct {
	fingerprint string
	client      RuntimeClient
}

var _ core.Adapter = (*Provider)(nil)

// New creates a Bedrock provider. A nil factory builds SDK clients with
// static credentials taken from the credential secret.
func New(opts providers.BuildOptions, factory RuntimeFactory) *Provider {
	p := &Provider{
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		clients:    make(map[string]cachedRuntime),
	}
	if p.httpClient == nil && opts.Transport != nil {
		// ConverseStream shares the client, so no overall timeout
		p.httpClient = httpclient.NewStreamingClient(opts.Transport)
	}
	p.newRuntime = factory
	if p.newRuntime == nil {
		p.newRuntime = p.sdkRuntime
	}
	return p
}

type sdkClient struct {
	client *bedrockruntime.Client
}

func (c sdkClient) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return c.client.Converse(ctx, in, optFns...)
}

func (c sdkClient) ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	out, err := c.client.ConverseStream(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c sdkClient) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return c.client.InvokeModel(ctx, in, optFns...)
}

func (p *Provider) sdkRuntime(cred core.Credential, region, baseURL string) (RuntimeClient, error) {
	secret, err := parseSecret(cred)
	if err != nil {
		return nil, err
	}
	opts := bedrockruntime.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			secret.AccessKeyID, secret.SecretAccessKey, secret.SessionToken,
		)),
		// the router owns retries
		Retryer: aws.NopRetryer{},
	}
	if p.httpClient != nil {
		opts.HTTPClient = p.httpClient
	}
	if baseURL != "" {
		opts.BaseEndpoint = aws.String(baseURL)
	}
	return sdkClient{client: bedrockruntime.New(opts)}, nil
}

func parseSecret(cred core.Credential) (providers.AWSSecret, error) {
	var s providers.AWSSecret
	if err := json.Unmarshal(cred.Secret, &s); err != nil || s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return s, core.NewCredentialMissingError(fmt.Sprintf("credential %q is not a valid AWS key pair", cred.ID))
	}
	return s, nil
}

// runtime returns the cached client for the call's credential. One client is
// kept per credential; a rotated secret or a changed region or endpoint
// replaces it.
func (p *Provider) runtime(call core.Call) (RuntimeClient, error) {
	region := call.Credential.Metadata[core.MetadataRegion]
	if region == "" {
		region = call.Endpoint.Options.String(core.MetadataRegion)
	}
	if region == "" {
		region = defaultRegion
	}
	baseURL := call.Credential.Metadata[core.MetadataBaseURL]
	if baseURL == "" {
		baseURL = call.Endpoint.Options.String(core.MetadataBaseURL)
	}
	if baseURL == "" {
		baseURL = p.baseURL
	}

	fingerprint := region + "|" + baseURL + "|" + strconv.FormatUint(xxhash.Sum64(call.Credential.Secret), 16)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[call.Credential.ID]; ok && c.fingerprint == fingerprint {
		return c.client, nil
	}
	c, err := p.newRuntime(call.Credential, region, baseURL)
	if err != nil {
		return nil, err
	}
	p.clients[call.Credential.ID] = cachedRuntime{fingerprint: fingerprint, client: c}
	return c, nil
}

// Prune implements providers.Pruner
func (p *Provider) Prune(keep func(credentialID string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.clients {
		if !keep(id) {
			delete(p.clients, id)
		}
	}
}

// Kind implements core.Adapter
func (p *Provider) Kind() core.ProviderKind { return core.ProviderBedrock }

// Capabilities implements core.Adapter
func (p *Provider) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapabilityChat, core.CapabilityEmbeddings)
}

// SupportsModel implements core.Adapter
func (p *Provider) SupportsModel(c core.Capability, modelID string) bool {
	embed := isEmbeddingModel(modelID)
	switch c {
	case core.CapabilityChat:
		return modelID != "" && !embed
	case core.CapabilityEmbeddings:
		return embed
	}
	return false
}

func isEmbeddingModel(modelID string) bool {
	return strings.Contains(modelID, "titan-embed") || strings.Contains(modelID, "cohere.embed")
}

// OptionProfile implements core.Adapter
func (p *Provider) OptionProfile(string) core.OptionProfile { return profile }

// Chat implements core.Adapter
func (p *Provider) Chat(ctx context.Context, call core.Call, req *core.ChatRequest) (*core.ChatResponse, error) {
	rt, err := p.runtime(call)
	if err != nil {
		return nil, err
	}
	out, err := rt.Converse(ctx, ToNative(req))
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	resp, err := FromNative(out, req.Model)
	if err != nil {
		return nil, err
	}
	resp.Provider = providerName
	return resp, nil
}

// StreamChat implements core.Adapter
func (p *Provider) StreamChat(ctx context.Context, call core.Call, req *core.ChatRequest) (core.ChunkStream, error) {
	rt, err := p.runtime(call)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	out, err := rt.ConverseStream(streamCtx, streamInput(ToNative(req)))
	if err != nil {
		cancel()
		return nil, classifyError(ctx, err)
	}
	es := out.GetStream()
	if es == nil {
		cancel()
		return nil, core.NewUpstreamUnavailableError(providerName, "stream output missing event stream", nil)
	}
	return &eventStream{
		ctx:    streamCtx,
		cancel: cancel,
		stream: es,
		conv:   &eventConverter{model: req.Model, created: time.Now().Unix()},
	}, nil
}

// eventStream adapts a ConverseStream event stream to core.ChunkStream
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream
	conv   *eventConverter

	pending []*core.Chunk
	err     error

	closeOnce sync.Once
	closeErr  error
}

func (s *eventStream) Recv() (*core.Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.err != nil {
			return nil, s.err
		}

		select {
		case <-s.ctx.Done():
			s.err = classifyError(s.ctx, s.ctx.Err())
		case event, ok := <-s.stream.Events():
			if ok {
				s.pending = append(s.pending, s.conv.convert(event)...)
				continue
			}
			switch err := s.stream.Err(); {
			case err != nil:
				s.err = classifyError(s.ctx, err)
			case !s.conv.stopped:
				s.err = core.NewUpstreamUnavailableError(providerName, "stream ended before the provider signalled completion", nil)
			default:
				s.err = io.EOF
			}
		}
	}
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

type titanEmbeddingRequest struct {
	InputText  string `json:"inputText"`
	Dimensions *int   `json:"dimensions,omitempty"`
}

type titanEmbeddingResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

type cohereEmbeddingRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embeddings implements core.Adapter. Titan embeds one text per call; Cohere
// takes the whole batch.
func (p *Provider) Embeddings(ctx context.Context, call core.Call, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	if !isEmbeddingModel(req.Model) {
		return nil, core.NewCapabilityMismatchError(core.ProviderBedrock, fmt.Sprintf("model %q is not a Bedrock embedding model", req.Model))
	}
	rt, err := p.runtime(call)
	if err != nil {
		return nil, err
	}
	resp := &core.EmbeddingResponse{Object: "list", Model: req.Model, Provider: providerName}

	if strings.Contains(req.Model, "cohere.embed") {
		var out cohereEmbeddingResponse
		if err := p.invoke(ctx, rt, req.Model, cohereEmbeddingRequest{Texts: req.Input, InputType: "search_document"}, &out); err != nil {
			return nil, err
		}
		for i, vec := range out.Embeddings {
			resp.Data = append(resp.Data, core.EmbeddingData{Object: "embedding", Embedding: vec, Index: i})
		}
		return resp, nil
	}

	for i, text := range req.Input {
		var out titanEmbeddingResponse
		if err := p.invoke(ctx, rt, req.Model, titanEmbeddingRequest{InputText: text, Dimensions: req.Dimensions}, &out); err != nil {
			return nil, err
		}
		resp.Data = append(resp.Data, core.EmbeddingData{Object: "embedding", Embedding: out.Embedding, Index: i})
		resp.Usage.PromptTokens += out.InputTextTokenCount
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens
	return resp, nil
}

func (p *Provider) invoke(ctx context.Context, rt RuntimeClient, model string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return core.NewTranslationError(providerName, "failed to encode request: "+err.Error())
	}
	out, err := rt.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return classifyError(ctx, err)
	}
	if err := json.Unmarshal(out.Body, result); err != nil {
		return core.NewTranslationError(providerName, "failed to decode response: "+err.Error())
	}
	return nil
}

// classifyError maps SDK failures onto the upstream taxonomy. The HTTP status
// of the service response wins; without one the API error code decides.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}

	var (
		status int
		code   string
		msg    = err.Error()
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		if m := apiErr.ErrorMessage(); m != "" {
			msg = code + ": " + m
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	if status == 0 {
		switch code {
		case "ThrottlingException", "TooManyRequestsException":
			status = http.StatusTooManyRequests
		case "ModelTimeoutException":
			status = http.StatusRequestTimeout
		case "ValidationException":
			status = http.StatusBadRequest
		case "AccessDeniedException":
			status = http.StatusForbidden
		case "ResourceNotFoundException":
			status = http.StatusNotFound
		case "":
			return core.ClassifyTransportError(providerName, err)
		default:
			status = http.StatusServiceUnavailable
		}
	}
	return core.ParseProviderError(providerName, status, []byte(msg), err)
}
