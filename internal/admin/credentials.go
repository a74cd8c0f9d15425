package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"aigateway/internal/core"
)

// CreateCredential handles POST /credentials. The secret is never echoed.
func (h *Handler) CreateCredential(c echo.Context) error {
	var req CreateCredentialRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	ctx := c.Request().Context()
	id, err := h.vault.Put(ctx, req.Provider, []byte(req.Secret), req.Metadata)
	if err != nil {
		return handleError(c, err)
	}
	info, err := h.vault.Info(id)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, info)
}

// ListCredentials handles GET /credentials
func (h *Handler) ListCredentials(c echo.Context) error {
	list := h.vault.List()
	if list == nil {
		list = []core.CredentialInfo{}
	}
	return c.JSON(http.StatusOK, CredentialsResponse{Credentials: list})
}

// GetCredential handles GET /credentials/:id
func (h *Handler) GetCredential(c echo.Context) error {
	info, err := h.vault.Info(c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// RotateCredential handles PUT /credentials/:id
func (h *Handler) RotateCredential(c echo.Context) error {
	var req RotateCredentialRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	id := c.Param("id")
	if err := h.vault.Rotate(c.Request().Context(), id, []byte(req.Secret)); err != nil {
		return handleError(c, err)
	}
	info, err := h.vault.Info(id)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// DeleteCredential handles DELETE /credentials/:id. It fails with 409 while
// any endpoint still references the credential.
func (h *Handler) DeleteCredential(c echo.Context) error {
	if err := h.vault.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetDefaultCredential handles POST /credentials/:id/default
func (h *Handler) SetDefaultCredential(c echo.Context) error {
	id := c.Param("id")
	if err := h.vault.SetDefault(c.Request().Context(), id); err != nil {
		return handleError(c, err)
	}
	info, err := h.vault.Info(id)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}
