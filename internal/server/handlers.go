package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"aigateway/internal/core"
	"aigateway/internal/passthrough"
	"aigateway/internal/relay"
	"aigateway/internal/router"
)

const (
	// WarningsHeader lists options dropped during translation.
	WarningsHeader = "X-Gateway-Warnings"
	// ErrorSourceHeader tells callers whether an error came from the provider
	// or from the gateway itself.
	ErrorSourceHeader = "X-Gateway-Error-Source"
)

// Handler holds the HTTP handlers
type Handler struct {
	router *router.Router
	relay  *relay.Relay
	proxy  *passthrough.Proxy
}

// NewHandler creates a new handler dispatching to the given components.
func NewHandler(r *router.Router, rel *relay.Relay, proxy *passthrough.Proxy) *Handler {
	if rel == nil {
		rel = relay.New(0)
	}
	return &Handler{
		router: r,
		relay:  rel,
		proxy:  proxy,
	}
}

// Invocations handles POST /gateway/:name/mlflow/invocations. A body with
// "input" and no "messages" is an embeddings call, anything else is chat.
func (h *Handler) Invocations(c echo.Context) error {
	name := c.Param("name")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("failed to read request body", err))
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return handleError(c, core.NewInvalidRequestError("request body must be a JSON object", nil))
	}
	if parsed.Get("input").Exists() && !parsed.Get("messages").Exists() {
		var req core.EmbeddingRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
		}
		return h.embed(c, name, &req)
	}

	var req core.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	return h.chat(c, name, &req)
}

// ChatCompletion handles POST /gateway/mlflow/v1/chat/completions. The
// request's model field names the endpoint.
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Model == "" {
		return handleError(c, core.NewInvalidRequestError("model is required and must name an endpoint", nil))
	}
	return h.chat(c, req.Model, &req)
}

// Embeddings handles POST /gateway/mlflow/v1/embeddings
func (h *Handler) Embeddings(c echo.Context) error {
	var req core.EmbeddingRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Model == "" {
		return handleError(c, core.NewInvalidRequestError("model is required and must name an endpoint", nil))
	}
	return h.embed(c, req.Model, &req)
}

func (h *Handler) chat(c echo.Context, name string, req *core.ChatRequest) error {
	ctx := c.Request().Context()
	if len(req.Messages) == 0 {
		return handleError(c, core.NewInvalidRequestError("messages must not be empty", nil))
	}

	if req.Stream {
		stream, err := h.router.Stream(ctx, name, req)
		if err != nil {
			return handleError(c, err)
		}
		setWarnings(c, stream.Warnings)
		res := h.relay.Serve(ctx, c.Response(), stream, "")
		if res.Outcome != relay.OutcomeCompleted {
			slog.Debug("stream ended early",
				"endpoint", name,
				"outcome", res.Outcome,
				"chunks", res.Chunks,
				"request_id", core.GetRequestID(ctx),
			)
		}
		return nil
	}

	resp, err := h.router.Chat(ctx, name, req)
	if err != nil {
		return handleError(c, err)
	}
	setWarnings(c, resp.Warnings)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) embed(c echo.Context, name string, req *core.EmbeddingRequest) error {
	if len(req.Input) == 0 {
		return handleError(c, core.NewInvalidRequestError("input must not be empty", nil))
	}
	resp, err := h.router.Embeddings(c.Request().Context(), name, req)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Passthrough handles /gateway/:name/* by forwarding the call to the
// provider's native API. The optional X-Gateway-Endpoint header selects the
// endpoint whose credential is used.
func (h *Handler) Passthrough(c echo.Context) error {
	if h.proxy == nil {
		return handleError(c, core.NewNotFoundError("passthrough is not enabled"))
	}
	req := c.Request()
	resp, err := h.proxy.Forward(req.Context(), &passthrough.Request{
		Provider:      core.ProviderKind(c.Param("name")),
		Endpoint:      strings.TrimSpace(req.Header.Get(passthrough.EndpointHeader)),
		Method:        req.Method,
		Path:          c.Param("*"),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          bodyOrNil(req),
		ContentLength: req.ContentLength,
	})
	if err != nil {
		return handleError(c, err)
	}
	if err := passthrough.WriteResponse(c.Response(), resp); err != nil {
		slog.Debug("passthrough response copy ended early",
			"provider", c.Param("name"),
			"error", err,
			"request_id", core.GetRequestID(req.Context()),
		)
	}
	return nil
}

// bodyOrNil keeps bodiless methods bodiless upstream.
func bodyOrNil(req *http.Request) io.Reader {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	return req.Body
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyResponse is the body of GET /gateway/ready.
type ReadyResponse struct {
	Status    string `json:"status"`
	Version   uint64 `json:"version"`
	Digest    string `json:"digest"`
	Endpoints int    `json:"endpoints"`
}

// Ready handles GET /gateway/ready
func (h *Handler) Ready(c echo.Context) error {
	snap := h.router.Snapshot()
	return c.JSON(http.StatusOK, ReadyResponse{
		Status:    "ok",
		Version:   snap.Version(),
		Digest:    snap.DigestString(),
		Endpoints: len(snap.Endpoints()),
	})
}

func setWarnings(c echo.Context, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	var b strings.Builder
	for i, w := range warnings {
		if i > 0 {
			b.WriteString("; ")
		}
		// header values cannot carry line breaks
		b.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(w))
	}
	c.Response().Header().Set(WarningsHeader, b.String())
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	gatewayErr := core.AsGatewayError(err)
	source := "gateway"
	if gatewayErr.IsUpstream() {
		source = "upstream"
	}
	c.Response().Header().Set(ErrorSourceHeader, source)
	if gatewayErr.Code == core.CodeInternal {
		slog.Error("request failed",
			"path", c.Path(),
			"error", err,
			"request_id", core.GetRequestID(c.Request().Context()),
		)
	}
	return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
}
