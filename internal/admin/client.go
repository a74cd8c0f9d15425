package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"aigateway/internal/core"
	"aigateway/internal/httpclient"
	"aigateway/internal/usage"
)

// Client calls the management surface of a running gateway.
type Client struct {
	baseURL    string
	masterKey  string
	principal  string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMasterKey sends the gateway master key as a bearer token.
func WithMasterKey(key string) ClientOption {
	return func(c *Client) { c.masterKey = key }
}

// WithPrincipal sets the X-Gateway-Principal header.
func WithPrincipal(principal string) ClientOption {
	return func(c *Client) { c.principal = principal }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewHTTPClient(nil)
	}
	return c
}

// PutCredential stores a new credential and returns its secret-free view.
func (c *Client) PutCredential(ctx context.Context, kind core.ProviderKind, secret string, metadata map[string]string) (core.CredentialInfo, error) {
	var out core.CredentialInfo
	err := c.do(ctx, http.MethodPost, "/credentials", CreateCredentialRequest{Provider: kind, Secret: secret, Metadata: metadata}, &out)
	return out, err
}

// ListCredentials lists credentials without secrets.
func (c *Client) ListCredentials(ctx context.Context) ([]core.CredentialInfo, error) {
	var out CredentialsResponse
	err := c.do(ctx, http.MethodGet, "/credentials", nil, &out)
	return out.Credentials, err
}

// RotateCredential replaces the secret of an existing credential.
func (c *Client) RotateCredential(ctx context.Context, id, secret string) (core.CredentialInfo, error) {
	var out core.CredentialInfo
	err := c.do(ctx, http.MethodPut, "/credentials/"+url.PathEscape(id), RotateCredentialRequest{Secret: secret}, &out)
	return out, err
}

// DeleteCredential removes a credential.
func (c *Client) DeleteCredential(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/credentials/"+url.PathEscape(id), nil, nil)
}

// SetDefaultCredential marks a credential as its provider's default.
func (c *Client) SetDefaultCredential(ctx context.Context, id string) (core.CredentialInfo, error) {
	var out core.CredentialInfo
	err := c.do(ctx, http.MethodPost, "/credentials/"+url.PathEscape(id)+"/default", nil, &out)
	return out, err
}

// CreateEndpoint registers a new endpoint.
func (c *Client) CreateEndpoint(ctx context.Context, req EndpointRequest) (core.Endpoint, error) {
	var out core.Endpoint
	err := c.do(ctx, http.MethodPost, "/endpoints", req, &out)
	return out, err
}

// UpdateEndpoint replaces the definition of an existing endpoint.
func (c *Client) UpdateEndpoint(ctx context.Context, name string, req EndpointRequest) (core.Endpoint, error) {
	var out core.Endpoint
	err := c.do(ctx, http.MethodPut, "/endpoints/"+url.PathEscape(name), req, &out)
	return out, err
}

// GetEndpoint fetches one endpoint.
func (c *Client) GetEndpoint(ctx context.Context, name string) (core.Endpoint, error) {
	var out core.Endpoint
	err := c.do(ctx, http.MethodGet, "/endpoints/"+url.PathEscape(name), nil, &out)
	return out, err
}

// ListEndpoints lists every endpoint.
func (c *Client) ListEndpoints(ctx context.Context) ([]core.Endpoint, error) {
	var out EndpointsResponse
	err := c.do(ctx, http.MethodGet, "/endpoints", nil, &out)
	return out.Endpoints, err
}

// DeleteEndpoint removes an endpoint.
func (c *Client) DeleteEndpoint(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/endpoints/"+url.PathEscape(name), nil, nil)
}

// Snapshot reports the version and digest of the gateway's configuration.
func (c *Client) Snapshot(ctx context.Context) (SnapshotResponse, error) {
	var out SnapshotResponse
	err := c.do(ctx, http.MethodGet, "/snapshot", nil, &out)
	return out, err
}

// UsageSummary fetches aggregated usage; query holds the raw filter
// parameters (days, start_date, end_date, endpoint, provider).
func (c *Client) UsageSummary(ctx context.Context, query url.Values) (usage.UsageSummary, error) {
	var out usage.UsageSummary
	err := c.do(ctx, http.MethodGet, "/usage/summary?"+query.Encode(), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+PathPrefix+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}
	if c.principal != "" {
		req.Header.Set("X-Gateway-Principal", c.principal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body back into a GatewayError, so callers can
// match the sentinels with errors.Is.
func decodeError(status int, data []byte) error {
	code := gjson.GetBytes(data, "error.code").String()
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if code == "" {
		// auth failures carry only a type
		return fmt.Errorf("gateway returned %d: %s", status, msg)
	}
	err := core.NewError(core.ErrorCode(code), msg, nil)
	err.StatusCode = status
	err.Provider = gjson.GetBytes(data, "error.provider").String()
	return err
}
