package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/admin"
	"aigateway/internal/core"
)

func TestRequestIDMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(requestIDMiddleware())
	var seen string
	e.GET("/test", func(c echo.Context) error {
		seen = core.GetRequestID(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})

	t.Run("generates an id when none is sent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		id := rec.Header().Get(echo.HeaderXRequestID)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, seen)
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(echo.HeaderXRequestID, "caller-id-123")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "caller-id-123", rec.Header().Get(echo.HeaderXRequestID))
		assert.Equal(t, "caller-id-123", seen)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *Config
		path       string
		wantStatus int
	}{
		{"disabled", &Config{}, "/metrics", http.StatusNotFound},
		{"default path", &Config{MetricsEnabled: true}, "/metrics", http.StatusOK},
		{"custom path", &Config{MetricsEnabled: true, MetricsEndpoint: "/monitoring/metrics"}, "/monitoring/metrics", http.StatusOK},
		{"public with master key", &Config{MasterKey: "k", MetricsEnabled: true}, "/metrics", http.StatusOK},
		{"traversal is cleaned", &Config{MetricsEnabled: true, MetricsEndpoint: "/a/../prom"}, "/prom", http.StatusOK},
		{"cannot shadow gateway routes", &Config{MetricsEnabled: true, MetricsEndpoint: "/gateway/metrics"}, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, rec.Body.String(), "# HELP")
			}
		})
	}
}

func TestMetricsEndpoint_ShadowedPathStillNeedsAuth(t *testing.T) {
	f := newFixture(t, &Config{MasterKey: "k", MetricsEnabled: true, MetricsEndpoint: "/gateway/metrics"})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSwaggerEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *Config
		wantStatus int
	}{
		{"enabled", &Config{SwaggerEnabled: true}, http.StatusOK},
		{"public with master key", &Config{MasterKey: "k", SwaggerEnabled: true}, http.StatusOK},
		{"disabled", &Config{}, http.StatusNotFound},
		{"nil config", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
				assert.Contains(t, rec.Body.String(), "swagger")
			}
		})
	}
}

func TestSwaggerDocJSON_DescribesRoutes(t *testing.T) {
	f := newFixture(t, &Config{SwaggerEnabled: true})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Swagger string `json:"swagger"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "AI Gateway API", doc.Info.Title)

	for path, method := range map[string]string{
		"/gateway/mlflow/v1/chat/completions":       "post",
		"/gateway/mlflow/v1/embeddings":             "post",
		"/gateway/{name}/mlflow/invocations":        "post",
		"/api/2.0/endpoints":                        "get",
		"/api/2.0/gateway/credentials":              "post",
		"/api/2.0/gateway/credentials/{id}":         "put",
		"/api/2.0/gateway/endpoints/{name}":         "delete",
		"/api/2.0/gateway/snapshot":                 "get",
		"/api/2.0/gateway/usage/summary":            "get",
		"/api/2.0/gateway/credentials/{id}/default": "post",
	} {
		require.Contains(t, doc.Paths, path)
		assert.Contains(t, doc.Paths[path], method, path)
	}
}

func TestDocsRedirectsToSwaggerUI(t *testing.T) {
	f := newFixture(t, &Config{MasterKey: "k", SwaggerEnabled: true})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/swagger/index.html", rec.Header().Get("Location"))
}

func TestAuth_ProtectsGatewayRoutes(t *testing.T) {
	f := newFixture(t, &Config{MasterKey: "gateway-key"})
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	rec := f.post(t, "/gateway/my-chat/mlflow/invocations", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.post(t, "/gateway/my-chat/mlflow/invocations", body, map[string]string{"Authorization": "Bearer gateway-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, &Config{BodySizeLimit: 64})
	big := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", 200) + `"}]}`

	rec := f.post(t, "/gateway/my-chat/mlflow/invocations", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = f.post(t, "/gateway/openai/v1/chat/completions", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAdminSurface(t *testing.T) {
	f := newFixture(t, nil)
	srv := New(Deps{
		Router: f.server.handler.router,
		Admin:  admin.NewHandler(admin.Config{Vault: f.vault, Registry: f.registry, Holder: f.holder}),
	}, &Config{MasterKey: "gateway-key", AdminPrincipals: []string{"ops"}})

	get := func(path string, header map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get(admin.PathPrefix+"/endpoints", nil).Code)
	assert.Equal(t, http.StatusForbidden, get(admin.PathPrefix+"/endpoints",
		map[string]string{"Authorization": "Bearer gateway-key", PrincipalHeader: "intern"}).Code)

	rec := get(admin.PathPrefix+"/endpoints", map[string]string{"Authorization": "Bearer gateway-key", PrincipalHeader: "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"my-chat"`)

	rec = get("/api/2.0/endpoints", map[string]string{"Authorization": "Bearer gateway-key", PrincipalHeader: "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"my-chat"`)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestAdminSurface_NotMountedWithoutHandler(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, admin.PathPrefix+"/endpoints", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
