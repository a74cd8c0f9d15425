package server

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"aigateway/internal/core"
)

func skipped(path string, skipPaths []string) bool {
	if slices.Contains(skipPaths, path) {
		return true
	}
	for _, p := range skipPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PrincipalHeader carries the caller identity established by an upstream
// authentication layer.
const PrincipalHeader = "X-Gateway-Principal"

func authError(c echo.Context, status int, typ, message string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]any{
			"type":    typ,
			"message": message,
		},
	})
}

// AuthMiddleware creates an Echo middleware that validates the master key
// if it's configured. If masterKey is empty, no authentication is required.
// Requests for skipPaths are always let through; an entry ending in "*"
// matches every path with that prefix.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || skipped(c.Request().URL.Path, skipPaths) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return authError(c, http.StatusUnauthorized, "authentication_error", "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return authError(c, http.StatusUnauthorized, "authentication_error",
					"invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return authError(c, http.StatusUnauthorized, "authentication_error", "invalid master key")
			}

			return next(c)
		}
	}
}

// PrincipalMiddleware restricts administrative routes to the listed
// principals. An empty list admits everyone who got past AuthMiddleware.
// The principal, when present, is attached to the request context.
func PrincipalMiddleware(allowed []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := strings.TrimSpace(c.Request().Header.Get(PrincipalHeader))
			if principal != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(core.WithPrincipal(req.Context(), principal)))
			}
			if len(allowed) == 0 {
				return next(c)
			}
			if principal == "" {
				return authError(c, http.StatusForbidden, "permission_error", "missing "+PrincipalHeader+" header")
			}
			if !slices.Contains(allowed, principal) {
				return authError(c, http.StatusForbidden, "permission_error", "principal is not allowed to manage the gateway")
			}
			return next(c)
		}
	}
}
