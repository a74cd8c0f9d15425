// Package admin provides the management surface of the gateway: HTTP
// handlers over the credential vault, the endpoint registry and usage data,
// plus a Go client for them.
package admin

import (
	"github.com/labstack/echo/v4"

	"aigateway/internal/endpoints"
	"aigateway/internal/snapshot"
	"aigateway/internal/usage"
	"aigateway/internal/vault"
)

// PathPrefix is where the management routes are mounted.
const PathPrefix = "/api/2.0/gateway"

// Config holds the components the admin handlers operate on.
type Config struct {
	Vault    *vault.Vault
	Registry *endpoints.Registry
	Holder   *snapshot.Holder
	// Usage may be nil if usage tracking is not available.
	Usage usage.UsageReader
}

// Handler serves admin API endpoints.
type Handler struct {
	vault       *vault.Vault
	registry    *endpoints.Registry
	holder      *snapshot.Holder
	usageReader usage.UsageReader
}

// NewHandler creates a new admin API handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		vault:       cfg.Vault,
		registry:    cfg.Registry,
		holder:      cfg.Holder,
		usageReader: cfg.Usage,
	}
}

// Register mounts the management routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/credentials", h.CreateCredential)
	g.GET("/credentials", h.ListCredentials)
	g.GET("/credentials/:id", h.GetCredential)
	g.PUT("/credentials/:id", h.RotateCredential)
	g.DELETE("/credentials/:id", h.DeleteCredential)
	g.POST("/credentials/:id/default", h.SetDefaultCredential)

	g.POST("/endpoints", h.CreateEndpoint)
	g.GET("/endpoints", h.ListEndpoints)
	g.GET("/endpoints/:name", h.GetEndpoint)
	g.PUT("/endpoints/:name", h.UpdateEndpoint)
	g.DELETE("/endpoints/:name", h.DeleteEndpoint)

	g.GET("/snapshot", h.Snapshot)
	g.GET("/usage/summary", h.UsageSummary)
	g.GET("/usage/daily", h.DailyUsage)
}
