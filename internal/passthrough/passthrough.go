// Package passthrough forwards calls to a provider's native API. Only the
// authentication headers are rewritten; bodies travel in both directions
// without interpretation.
package passthrough

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aigateway/internal/core"
	"aigateway/internal/endpoints"
	"aigateway/internal/httpclient"
	"aigateway/internal/providers"
	"aigateway/internal/snapshot"
	"aigateway/internal/usage"
)

// EndpointHeader scopes a passthrough call to a named endpoint's credential.
const EndpointHeader = "X-Gateway-Endpoint"

// gatewayHeaderPrefix marks headers addressed to the gateway itself.
const gatewayHeaderPrefix = "X-Gateway-"

// hopHeaders are connection-level headers that never cross a proxy.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request is one inbound passthrough call.
type Request struct {
	Provider core.ProviderKind
	// Endpoint is optional; without it the provider's default credential is used
	Endpoint      string
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

// Config configures a Proxy.
type Config struct {
	// HTTPClient must not transparently decompress responses
	HTTPClient *http.Client
	Usage      usage.Recorder
}

// Proxy is the passthrough proxy. Calls are never retried.
type Proxy struct {
	holder  *snapshot.Holder
	targets *providers.Set
	client  *http.Client
	usage   usage.Recorder
	tracer  trace.Tracer
}

// New creates a proxy resolving credentials from holder.
func New(holder *snapshot.Holder, targets *providers.Set, cfg Config) *Proxy {
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.NewStreamingClient(nil)
	}
	u := cfg.Usage
	if u == nil {
		u = usage.Discard
	}
	return &Proxy{
		holder:  holder,
		targets: targets,
		client:  client,
		usage:   u,
		tracer:  otel.Tracer("aigateway/passthrough"),
	}
}

type resolved struct {
	target     core.PassthroughTarget
	credential core.Credential
	endpoint   core.Endpoint
}

// resolve picks the credential for req from a single snapshot.
func (p *Proxy) resolve(req *Request) (*resolved, error) {
	if !p.targets.KnownKind(req.Provider) {
		return nil, core.NewNotFoundError(fmt.Sprintf("unknown provider: %s", req.Provider))
	}
	target, ok := p.targets.PassthroughTarget(req.Provider)
	if !ok {
		return nil, core.NewCapabilityUnsupportedError(req.Provider, core.CapabilityPassthrough)
	}

	snap := p.holder.Current()
	if req.Endpoint == "" {
		cred, ok := snap.DefaultCredential(req.Provider)
		if !ok {
			return nil, core.NewCredentialMissingError(fmt.Sprintf("no default credential for provider %s", req.Provider))
		}
		return &resolved{target: target, credential: cred}, nil
	}

	ep, err := endpoints.ResolveIn(snap, req.Endpoint)
	if err != nil {
		return nil, err
	}
	if ep.ProviderKind != req.Provider {
		return nil, core.NewInvalidRequestError(
			fmt.Sprintf("endpoint %s serves provider %s, not %s", ep.Name, ep.ProviderKind, req.Provider), nil)
	}
	cred, ok := snap.Credential(ep.CredentialRef)
	if !ok {
		return nil, core.NewCredentialMissingError(fmt.Sprintf("credential for endpoint %s is missing", ep.Name))
	}
	return &resolved{target: target, credential: cred, endpoint: ep}, nil
}

// Forward sends req to the provider and returns its response unmodified,
// whatever the status. The caller must close the response body; closing it
// records the call's usage.
func (p *Proxy) Forward(ctx context.Context, req *Request) (*http.Response, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "passthrough.forward", trace.WithAttributes(
		attribute.String("aigateway.provider", string(req.Provider)),
		attribute.String("aigateway.endpoint", req.Endpoint),
	))
	defer span.End()

	resp, err := p.forward(ctx, req, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(core.CodeOf(err)))
		p.record(ctx, req, statusOf(err), start)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

func (p *Proxy) forward(ctx context.Context, req *Request, start time.Time) (*http.Response, error) {
	r, err := p.resolve(req)
	if err != nil {
		return nil, err
	}

	target := joinTarget(r.target.BaseURL(r.credential, r.endpoint.Options), req.Path)
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, core.NewInvalidRequestError("invalid passthrough request", err)
	}
	out.Header = outboundHeader(req.Header, r.target.AuthHeaders())
	if req.ContentLength != 0 {
		out.ContentLength = req.ContentLength
	}
	r.target.Authorize(out.Header, r.credential, r.endpoint.Options)

	resp, err := p.client.Do(out)
	if err != nil {
		return nil, core.ClassifyTransportError(string(req.Provider), err)
	}

	status := usage.StatusOK
	if resp.StatusCode >= http.StatusBadRequest {
		status = string(core.ParseProviderError(string(req.Provider), resp.StatusCode, nil, nil).Code)
		slog.Info("passthrough upstream returned an error status",
			"provider", req.Provider,
			"endpoint", req.Endpoint,
			"status", resp.StatusCode,
			"request_id", core.GetRequestID(ctx),
		)
	}
	forwardedTotal.WithLabelValues(string(req.Provider), strconv.Itoa(resp.StatusCode)).Inc()
	forwardDuration.WithLabelValues(string(req.Provider)).Observe(time.Since(start).Seconds())

	if p.usage != usage.Discard {
		resp.Body = usage.NewTap(resp.Body, p.usage, usage.UsageEntry{
			ID:        uuid.NewString(),
			RequestID: core.GetRequestID(ctx),
			Endpoint:  req.Endpoint,
			Provider:  string(req.Provider),
			Model:     r.endpoint.ModelID,
			Operation: usage.OperationPassthrough,
			Status:    status,
			Attempts:  1,
		}, resp.Header.Get("Content-Encoding"), isEventStream(resp.Header), start)
	}
	return resp, nil
}

// joinTarget appends p to base. A leading segment of p that repeats the last
// path segment of base ("v1" on ".../v1") is dropped, so both
// "/gateway/openai/chat/completions" and "/gateway/openai/v1/chat/completions"
// reach the same upstream URL.
func joinTarget(base, p string) string {
	p = strings.TrimLeft(p, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		last := base[i+1:]
		if last != "" && !strings.Contains(last, ".") && !strings.Contains(last, ":") &&
			(p == last || strings.HasPrefix(p, last+"/")) {
			p = strings.TrimLeft(strings.TrimPrefix(p, last), "/")
		}
	}
	return base + "/" + p
}

// record logs a usage entry for a call that never produced a response.
func (p *Proxy) record(ctx context.Context, req *Request, status string, start time.Time) {
	forwardedTotal.WithLabelValues(string(req.Provider), status).Inc()
	p.usage.Record(&usage.UsageEntry{
		ID:        uuid.NewString(),
		RequestID: core.GetRequestID(ctx),
		Timestamp: time.Now().UTC(),
		Endpoint:  req.Endpoint,
		Provider:  string(req.Provider),
		Operation: usage.OperationPassthrough,
		Status:    status,
		LatencyMs: time.Since(start).Milliseconds(),
		Attempts:  1,
	})
}

func statusOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return string(core.CodeOf(err))
}

// outboundHeader copies the client's headers minus connection-level ones,
// gateway-addressed ones and every header the provider reads credentials from.
func outboundHeader(in http.Header, authHeaders []string) http.Header {
	h := in.Clone()
	if h == nil {
		h = http.Header{}
	}
	removeHopHeaders(h)
	for _, name := range authHeaders {
		h.Del(name)
	}
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), gatewayHeaderPrefix) {
			delete(h, name)
		}
	}
	h.Del("Host")
	return h
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

// WriteResponse relays resp to w: status, headers and body as received.
// Event streams are flushed as bytes arrive. It closes resp.Body.
func WriteResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	h := w.Header()
	for name, values := range resp.Header {
		h[name] = append([]string(nil), values...)
	}
	removeHopHeaders(h)
	if resp.StatusCode >= http.StatusBadRequest {
		h.Set("X-Gateway-Error-Source", "upstream")
	}
	w.WriteHeader(resp.StatusCode)

	if !isEventStream(resp.Header) {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, wErr := w.Write(buf[:n]); wErr != nil {
				return wErr
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
