// Package llmclient provides the HTTP client provider adapters build on:
// - JSON request marshaling and response decoding
// - Mapping of HTTP and transport failures onto the upstream error taxonomy
// - Circuit breaking per upstream account (base URL and credential)
//
// The client issues exactly one attempt per call. Retry policy lives in the
// request router so it is applied once, uniformly, for every provider.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"aigateway/internal/core"
	"aigateway/internal/httpclient"
)

// maxErrorBody caps how much of an upstream error body is read
const maxErrorBody = 1 << 20

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL used when a request carries none
	BaseURL string

	// Circuit breaker configuration
	CircuitBreaker *CircuitBreakerConfig

	// Transport tunes the pooled clients; nil uses httpclient.DefaultConfig
	Transport *httpclient.ClientConfig
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	config       Config
	headerSetter HeaderSetter

	breakersMu sync.Mutex
	breakers   map[breakerKey]*circuitBreaker
}

// breakerKey scopes a circuit to one upstream account, so a failing or
// throttled key never trips requests made with a different key.
type breakerKey struct {
	baseURL string
	account string
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return newClient(httpclient.NewHTTPClient(config.Transport), httpclient.NewStreamingClient(config.Transport), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client that uses httpClient for both
// buffered and streaming calls
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return newClient(httpClient, httpClient, config, headerSetter)
}

func newClient(httpClient, streamClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpClient,
		streamClient: streamClient,
		config:       config,
		headerSetter: headerSetter,
		breakers:     make(map[breakerKey]*circuitBreaker),
	}
}

// breaker returns the circuit for req's upstream account, creating it on
// first use. It returns nil when circuit breaking is disabled.
func (c *Client) breaker(req Request) *circuitBreaker {
	if c.config.CircuitBreaker == nil {
		return nil
	}
	key := breakerKey{baseURL: c.baseURL(req), account: req.Account}

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	cb, ok := c.breakers[key]
	if !ok {
		cb = newCircuitBreaker(
			c.config.CircuitBreaker.FailureThreshold,
			c.config.CircuitBreaker.SuccessThreshold,
			c.config.CircuitBreaker.Timeout,
		)
		c.breakers[key] = cb
	}
	return cb
}

// Prune drops the circuits of every account keep rejects, e.g. once its
// credential has been deleted.
func (c *Client) Prune(keep func(account string) bool) {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	for key := range c.breakers {
		if !keep(key.account) {
			delete(c.breakers, key)
		}
	}
}

func (c *Client) baseURL(req Request) string {
	base := req.BaseURL
	if base == "" {
		base = c.config.BaseURL
	}
	return strings.TrimRight(base, "/")
}

// BaseURL returns the default base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// ProviderName returns the provider name used in errors
func (c *Client) ProviderName() string {
	return c.config.ProviderName
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	// BaseURL overrides the client's base URL for this request
	BaseURL string
	Body    any // JSON marshaled if not nil
	// Headers are applied after the client's HeaderSetter; credentials go here
	Headers map[string]string
	// Account scopes circuit breaking together with the base URL. Adapters
	// set it to the credential ID.
	Account string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do executes a request, then unmarshals the response into result
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewTranslationError(c.config.ProviderName, "failed to decode provider response: "+err.Error())
		}
	}

	return nil
}

// DoRaw executes a single attempt with circuit breaking and returns the raw
// response. Any non-2xx status is returned as an error.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	cb := c.breaker(req)
	if err := c.allow(cb); err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, cb, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportFailure(ctx, cb, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusFailure(cb, resp.StatusCode, body)
	}

	cb.recordSuccess()
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DoStream executes a streaming request, returning the open body on a 2xx
// status. The caller must close it.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	cb := c.breaker(req)
	if err := c.allow(cb); err != nil {
		return nil, err
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, cb, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		return nil, c.statusFailure(cb, resp.StatusCode, respBody)
	}

	cb.recordSuccess()
	return resp.Body, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.baseURL(req) + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewTranslationError(c.config.ProviderName, "failed to encode provider request: "+err.Error())
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInternalError("failed to create upstream request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) allow(cb *circuitBreaker) error {
	if cb != nil && !cb.Allow() {
		return core.NewUpstreamUnavailableError(c.config.ProviderName,
			"circuit breaker is open - provider temporarily unavailable", nil)
	}
	return nil
}

// transportFailure classifies a failed exchange. A caller cancellation is
// not the provider's fault and does not count against the circuit.
func (c *Client) transportFailure(ctx context.Context, cb *circuitBreaker, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	cb.recordFailure()
	return core.ClassifyTransportError(c.config.ProviderName, err)
}

// statusFailure classifies a non-2xx response. Only server-side failures
// count against the circuit; throttling is the rate limiter's concern and a
// 429 says the upstream is healthy.
func (c *Client) statusFailure(cb *circuitBreaker, status int, body []byte) error {
	if status >= 500 {
		cb.recordFailure()
	}
	return core.ParseProviderError(c.config.ProviderName, status, body, nil)
}

// circuitBreaker implements a simple circuit breaker pattern
type circuitBreaker struct {
	mu               sync.RWMutex
	state            circuitState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:            circuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful request
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = circuitClosed
			cb.failures = 0
		}
	case circuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case circuitClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = circuitOpen
		}
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.successes = 0
	}
}

func (cb *circuitBreaker) recordSuccess() {
	if cb != nil {
		cb.RecordSuccess()
	}
}

func (cb *circuitBreaker) recordFailure() {
	if cb != nil {
		cb.RecordFailure()
	}
}

// State returns the current circuit state (for testing/monitoring)
func (cb *circuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}
