package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"aigateway/internal/core"
	"aigateway/internal/endpoints"
)

func (r EndpointRequest) spec() endpoints.Spec {
	return endpoints.Spec{
		ProviderKind:  r.Provider,
		ModelID:       r.Model,
		CredentialRef: r.CredentialID,
		Options:       r.Options,
	}
}

// CreateEndpoint handles POST /endpoints
func (h *Handler) CreateEndpoint(c echo.Context) error {
	var req EndpointRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	ep, err := h.registry.Create(c.Request().Context(), req.Name, req.spec())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, ep)
}

// ListEndpoints handles GET /endpoints. The snapshot digest doubles as the
// ETag, so pollers get 304 until something changes.
func (h *Handler) ListEndpoints(c echo.Context) error {
	snap := h.holder.Current()
	etag := strconv.Quote(snap.DigestString())
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSON(http.StatusOK, EndpointsResponse{
		Endpoints: snap.Endpoints(),
		Version:   snap.Version(),
	})
}

// GetEndpoint handles GET /endpoints/:name
func (h *Handler) GetEndpoint(c echo.Context) error {
	ep, err := h.registry.Resolve(c.Param("name"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, ep)
}

// UpdateEndpoint handles PUT /endpoints/:name
func (h *Handler) UpdateEndpoint(c echo.Context) error {
	var req EndpointRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	ep, err := h.registry.Update(c.Request().Context(), c.Param("name"), req.spec())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, ep)
}

// DeleteEndpoint handles DELETE /endpoints/:name
func (h *Handler) DeleteEndpoint(c echo.Context) error {
	if err := h.registry.Delete(c.Request().Context(), c.Param("name")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Snapshot handles GET /snapshot
func (h *Handler) Snapshot(c echo.Context) error {
	snap := h.holder.Current()
	return c.JSON(http.StatusOK, SnapshotResponse{
		Version:     snap.Version(),
		Digest:      snap.DigestString(),
		Endpoints:   len(snap.Endpoints()),
		Credentials: len(snap.Credentials()),
		Persistent:  h.vault.Persistent(),
	})
}
