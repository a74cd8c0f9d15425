// Package server provides the HTTP surface of the gateway.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"aigateway/internal/admin"
	"aigateway/internal/core"
	"aigateway/internal/passthrough"
	"aigateway/internal/relay"
	"aigateway/internal/router"
	_ "aigateway/internal/server/docs"
)

// DefaultBodySizeLimit is used when Config.BodySizeLimit is not set.
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string   // Optional: Master key for authentication
	MetricsEnabled  bool     // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string   // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64    // Max request body size in bytes (default: 10MB)
	AdminPrincipals []string // Principals allowed on the admin surface; empty allows all
	SwaggerEnabled  bool     // Whether to serve the API description at /swagger and /docs
}

// Deps are the components the HTTP surface dispatches to.
type Deps struct {
	Router      *router.Router
	Relay       *relay.Relay
	Passthrough *passthrough.Proxy
	// Admin is optional; without it the management routes are not mounted.
	Admin *admin.Handler
}

// reservedPrefixes may not host the metrics endpoint.
var reservedPrefixes = []string{"/gateway", "/api", "/swagger", "/docs"}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps.Router, deps.Relay, deps.Passthrough)

	authSkipPaths := []string{"/health", "/gateway/ready"}

	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		for _, p := range reservedPrefixes {
			if metricsPath == p || strings.HasPrefix(metricsPath, p+"/") {
				slog.Warn("metrics endpoint collides with API routes, using /metrics", "configured", metricsPath)
				metricsPath = "/metrics"
				break
			}
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}
	if cfg.SwaggerEnabled {
		authSkipPaths = append(authSkipPaths, "/docs", "/swagger/*")
	}

	// Global middleware stack (order matters)
	e.Use(requestIDMiddleware())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	e.GET("/gateway/ready", handler.Ready)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	if cfg.SwaggerEnabled {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
		e.GET("/docs", func(c echo.Context) error {
			return c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
		})
	}

	// Gateway routes
	e.POST("/gateway/mlflow/v1/chat/completions", handler.ChatCompletion)
	e.POST("/gateway/mlflow/v1/embeddings", handler.Embeddings)
	e.POST("/gateway/:name/mlflow/invocations", handler.Invocations)
	e.Any("/gateway/:name/*", handler.Passthrough)

	if deps.Admin != nil {
		principals := PrincipalMiddleware(cfg.AdminPrincipals)
		e.GET("/api/2.0/endpoints", deps.Admin.ListEndpoints, principals)
		deps.Admin.Register(e.Group(admin.PathPrefix, principals))
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestIDMiddleware keeps a caller supplied X-Request-ID or generates one,
// and makes it available to downstream code through the request context.
func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
		},
	})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if principal := core.GetPrincipal(c.Request().Context()); principal != "" {
				attrs = append(attrs, slog.String("principal", principal))
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
