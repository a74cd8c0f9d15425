// Package router resolves endpoint names against a routing snapshot and
// dispatches canonical calls to the matching provider adapter.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aigateway/internal/core"
	"aigateway/internal/endpoints"
	"aigateway/internal/providers"
	"aigateway/internal/snapshot"
	"aigateway/internal/translate"
	"aigateway/internal/usage"
)

const (
	// DefaultRetryBackoff is the pause before the single retry.
	DefaultRetryBackoff = 250 * time.Millisecond
	// MaxRetryBackoff bounds any configured backoff.
	MaxRetryBackoff = 5 * time.Second
)

// Config configures a Router.
type Config struct {
	RetryBackoff time.Duration
	Usage        usage.Recorder
}

// Router is the request router. It holds no lock on the request path; each
// call works against the snapshot it captured first.
type Router struct {
	holder   *snapshot.Holder
	adapters *providers.Set
	limits   *limiters
	backoff  time.Duration
	usage    usage.Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a router reading from holder and dispatching to adapters.
func New(holder *snapshot.Holder, adapters *providers.Set, cfg Config) *Router {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if backoff > MaxRetryBackoff {
		backoff = MaxRetryBackoff
	}
	u := cfg.Usage
	if u == nil {
		u = usage.Discard
	}
	r := &Router{
		holder:   holder,
		adapters: adapters,
		limits:   newLimiters(),
		backoff:  backoff,
		usage:    u,
		tracer:   otel.Tracer("aigateway/router"),
		now:      time.Now,
	}
	holder.OnCommit(r.limits.prune)
	return r
}

// target is a resolved endpoint: everything one call needs, taken from a
// single snapshot.
type target struct {
	endpoint   core.Endpoint
	credential core.Credential
	adapter    core.Adapter
	version    uint64
}

func (t *target) call() core.Call {
	return core.Call{Endpoint: t.endpoint, Credential: t.credential}
}

func (t *target) provider() string {
	if t == nil {
		return ""
	}
	return string(t.endpoint.ProviderKind)
}

// resolve captures the current snapshot and resolves name for capability c.
func (r *Router) resolve(name string, c core.Capability) (*target, error) {
	snap := r.holder.Current()

	ep, err := endpoints.ResolveIn(snap, name)
	if err != nil {
		return nil, err
	}
	cred, ok := snap.Credential(ep.CredentialRef)
	if !ok {
		return nil, core.NewCredentialMissingError(
			fmt.Sprintf("endpoint %q references credential %q which does not exist", name, ep.CredentialRef))
	}
	adapter, ok := r.adapters.Adapter(ep.ProviderKind)
	if !ok || !adapter.Capabilities().Has(c) {
		return nil, core.NewCapabilityUnsupportedError(ep.ProviderKind, c)
	}
	return &target{endpoint: ep, credential: cred, adapter: adapter, version: snap.Version()}, nil
}

func (r *Router) admit(t *target) error {
	ok, err := r.limits.allow(t.endpoint)
	if err != nil {
		return core.NewInternalError("invalid rate limit on endpoint "+t.endpoint.Name, err)
	}
	if !ok {
		rateLimitedTotal.WithLabelValues(t.endpoint.Name).Inc()
		return core.NewRateLimitedError(t.endpoint.Name)
	}
	return nil
}

// prepareChat validates req and runs the option policy for the endpoint's
// provider. The returned request targets the endpoint's model.
func (r *Router) prepareChat(ctx context.Context, t *target, req *core.ChatRequest) (*core.ChatRequest, translate.Report, error) {
	if err := translate.ValidateChat(req); err != nil {
		return nil, translate.Report{}, err
	}
	profile := t.adapter.OptionProfile(t.endpoint.ModelID)
	out, report, err := translate.Apply(profile, req.WithModel(t.endpoint.ModelID), t.endpoint.Options.Bool(OptionStrict))
	if err != nil {
		return nil, report, err
	}
	for i, opt := range report.Dropped {
		translationWarningsTotal.WithLabelValues(t.provider(), string(opt)).Inc()
		slog.Warn("option dropped",
			"endpoint", t.endpoint.Name,
			"provider", t.provider(),
			"option", opt,
			"warning", report.Warnings[i],
			"request_id", core.GetRequestID(ctx),
		)
	}
	return out, report, nil
}

// dispatch runs fn once and, on an unavailable or timeout failure, once
// more after the backoff. It returns the number of attempts made.
func dispatch[T any](ctx context.Context, r *Router, t *target, fn func(context.Context) (T, error)) (T, int, error) {
	timeout, err := ParseRequestTimeout(t.endpoint.Options)
	if err != nil {
		var zero T
		return zero, 0, core.NewInternalError("invalid request timeout on endpoint "+t.endpoint.Name, err)
	}

	attempt := func() (T, error) {
		if timeout <= 0 {
			return fn(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(attemptCtx)
	}

	out, err := attempt()
	if err == nil || !core.IsRetryable(err) || ctx.Err() != nil {
		return out, 1, err
	}

	retriesTotal.WithLabelValues(t.provider(), string(core.CodeOf(err))).Inc()
	slog.Info("retrying upstream call",
		"endpoint", t.endpoint.Name,
		"provider", t.provider(),
		"error", err,
		"backoff", r.backoff,
		"request_id", core.GetRequestID(ctx),
	)

	timer := time.NewTimer(r.backoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return out, 1, err
	case <-timer.C:
	}

	out, err = attempt()
	return out, 2, err
}

// dispatchStream opens a stream with the same retry policy. The timeout
// option bounds each attempt until its first chunk arrives; once chunks flow
// the stream lasts as long as the client keeps reading.
func (r *Router) dispatchStream(ctx context.Context, t *target, req *core.ChatRequest) (core.ChunkStream, int, error) {
	timeout, err := ParseRequestTimeout(t.endpoint.Options)
	if err != nil {
		return nil, 0, core.NewInternalError("invalid request timeout on endpoint "+t.endpoint.Name, err)
	}
	unbounded := *t
	unbounded.endpoint.Options = t.endpoint.Options.Clone()
	delete(unbounded.endpoint.Options, OptionRequestTimeout)
	return dispatch(ctx, r, &unbounded, func(ctx context.Context) (core.ChunkStream, error) {
		return openBounded(ctx, timeout, t.provider(), func(ctx context.Context) (core.ChunkStream, error) {
			return t.adapter.StreamChat(ctx, t.call(), req)
		})
	})
}

func (r *Router) startSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "router."+op, trace.WithAttributes(
		attribute.String("aigateway.endpoint", name),
		attribute.String("aigateway.operation", op),
	))
}

func endSpan(span trace.Span, t *target, attempts int, err error) {
	if t != nil {
		span.SetAttributes(
			attribute.String("aigateway.provider", t.provider()),
			attribute.String("aigateway.model", t.endpoint.ModelID),
			attribute.Int64("aigateway.snapshot_version", int64(t.version)),
		)
	}
	span.SetAttributes(attribute.Int("aigateway.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(core.CodeOf(err)))
	}
	span.End()
}

// finish records metrics and a usage entry for a completed call.
func (r *Router) finish(ctx context.Context, op, name string, t *target, start time.Time, attempts int, u core.Usage, providerID string, err error) {
	code := usage.StatusOK
	if err != nil {
		code = statusOf(err)
	}
	provider, model := t.provider(), ""
	if t != nil {
		model = t.endpoint.ModelID
	}
	requestsTotal.WithLabelValues(name, provider, op, code).Inc()
	if t != nil {
		requestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	}

	r.usage.Record(&usage.UsageEntry{
		ID:           uuid.NewString(),
		RequestID:    core.GetRequestID(ctx),
		ProviderID:   providerID,
		Timestamp:    r.now().UTC(),
		Endpoint:     name,
		Provider:     provider,
		Model:        model,
		Operation:    op,
		Status:       code,
		LatencyMs:    time.Since(start).Milliseconds(),
		Attempts:     attempts,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	})
}

func statusOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return string(core.CodeOf(err))
}

// Chat routes a buffered chat call to the named endpoint.
func (r *Router) Chat(ctx context.Context, name string, req *core.ChatRequest) (resp *core.ChatResponse, err error) {
	ctx, span := r.startSpan(ctx, usage.OperationChat, name)
	start := r.now()
	var (
		t        *target
		attempts int
	)
	defer func() {
		var u core.Usage
		var id string
		if resp != nil {
			u, id = resp.Usage, resp.ID
		}
		r.finish(ctx, usage.OperationChat, name, t, start, attempts, u, id, err)
		endSpan(span, t, attempts, err)
	}()

	if t, err = r.resolve(name, core.CapabilityChat); err != nil {
		return nil, err
	}
	prepared, report, err := r.prepareChat(ctx, t, req)
	if err != nil {
		return nil, err
	}
	prepared.Stream = false
	if err = r.admit(t); err != nil {
		return nil, err
	}

	resp, attempts, err = dispatch(ctx, r, t, func(ctx context.Context) (*core.ChatResponse, error) {
		return t.adapter.Chat(ctx, t.call(), prepared)
	})
	if err != nil {
		return nil, err
	}
	resp.Warnings = append(resp.Warnings, report.Warnings...)
	return resp, nil
}

// Stream is an open chat stream together with the policy warnings raised
// while preparing it. Closing it cancels the upstream call.
type Stream struct {
	core.ChunkStream
	Endpoint core.Endpoint
	Warnings []string
}

// Stream routes a streaming chat call. Only opening the stream is retried;
// chunks already delivered are never replayed.
func (r *Router) Stream(ctx context.Context, name string, req *core.ChatRequest) (_ *Stream, err error) {
	ctx, span := r.startSpan(ctx, usage.OperationStream, name)
	start := r.now()
	var (
		t        *target
		attempts int
	)
	defer func() {
		if err != nil {
			r.finish(ctx, usage.OperationStream, name, t, start, attempts, core.Usage{}, "", err)
			endSpan(span, t, attempts, err)
		}
	}()

	if t, err = r.resolve(name, core.CapabilityChat); err != nil {
		return nil, err
	}
	prepared, report, err := r.prepareChat(ctx, t, req)
	if err != nil {
		return nil, err
	}
	prepared.Stream = true
	if err = r.admit(t); err != nil {
		return nil, err
	}

	inner, attempts, err := r.dispatchStream(ctx, t, prepared)
	if err != nil {
		return nil, err
	}
	requestDuration.WithLabelValues(t.provider(), usage.OperationStream).Observe(time.Since(start).Seconds())

	observed := newObservedStream(inner, func(u core.Usage, id string, streamErr error) {
		r.finish(ctx, usage.OperationStream, name, t, start, attempts, u, id, streamErr)
		endSpan(span, t, attempts, streamErr)
	})
	return &Stream{ChunkStream: observed, Endpoint: t.endpoint, Warnings: report.Warnings}, nil
}

// Embeddings routes an embeddings call to the named endpoint.
func (r *Router) Embeddings(ctx context.Context, name string, req *core.EmbeddingRequest) (resp *core.EmbeddingResponse, err error) {
	ctx, span := r.startSpan(ctx, usage.OperationEmbeddings, name)
	start := r.now()
	var (
		t        *target
		attempts int
	)
	defer func() {
		var u core.Usage
		if resp != nil {
			u = core.Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
		}
		r.finish(ctx, usage.OperationEmbeddings, name, t, start, attempts, u, "", err)
		endSpan(span, t, attempts, err)
	}()

	if t, err = r.resolve(name, core.CapabilityEmbeddings); err != nil {
		return nil, err
	}
	if err = translate.ValidateEmbeddings(req); err != nil {
		return nil, err
	}
	if err = r.admit(t); err != nil {
		return nil, err
	}

	prepared := *req
	prepared.Model = t.endpoint.ModelID
	resp, attempts, err = dispatch(ctx, r, t, func(ctx context.Context) (*core.EmbeddingResponse, error) {
		return t.adapter.Embeddings(ctx, t.call(), &prepared)
	})
	return resp, err
}

// Snapshot returns the snapshot new calls currently resolve against.
func (r *Router) Snapshot() *snapshot.Snapshot {
	return r.holder.Current()
}
