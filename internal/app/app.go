// Package app wires the gateway components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"aigateway/config"
	"aigateway/internal/admin"
	"aigateway/internal/cache"
	"aigateway/internal/core"
	"aigateway/internal/endpoints"
	"aigateway/internal/httpclient"
	"aigateway/internal/passthrough"
	"aigateway/internal/pkg/llmclient"
	"aigateway/internal/providers"
	"aigateway/internal/relay"
	"aigateway/internal/router"
	"aigateway/internal/server"
	"aigateway/internal/snapshot"
	"aigateway/internal/storage"
	"aigateway/internal/store"
	"aigateway/internal/usage"
	"aigateway/internal/vault"
)

// publishTimeout bounds a single change notification.
const publishTimeout = 5 * time.Second

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	instance string

	storage  storage.Storage
	store    *store.Result
	usage    *usage.Result
	notifier cache.Notifier

	holder   *snapshot.Holder
	adapters *providers.Set
	vault    *vault.Vault
	registry *endpoints.Registry
	router   *router.Router
	server   *server.Server

	stopFollow context.CancelFunc
	followDone chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration.
	AppConfig *config.Config

	// Factory provides the ProviderFactory used to construct the adapter set.
	Factory *providers.ProviderFactory

	// Getenv reads provider keys and base URLs. Defaults to os.Getenv.
	Getenv func(string) string
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (_ *App, err error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg, instance: uuid.NewString()}
	// release whatever was opened if a later step fails
	defer func() {
		if err != nil {
			if closeErr := app.closeResources(); closeErr != nil {
				err = fmt.Errorf("%w (also: close error: %v)", err, closeErr)
			}
		}
	}()

	bodyLimit, err := config.ParseBodySizeLimit(appCfg.Server.BodySizeLimit)
	if err != nil {
		return nil, err
	}

	storageCfg, err := storage.ParseURI(appCfg.Store.URI)
	if err != nil {
		return nil, err
	}
	app.storage, err = storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend store: %w", err)
	}
	app.store, err = store.NewWithSharedStorage(ctx, app.storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize routing store: %w", err)
	}

	transport := httpclient.DefaultConfig()
	if appCfg.HTTP.Timeout > 0 {
		transport.Timeout = time.Duration(appCfg.HTTP.Timeout) * time.Second
	}
	if appCfg.HTTP.ResponseHeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = time.Duration(appCfg.HTTP.ResponseHeaderTimeout) * time.Second
	}

	set, err := buildAdapters(cfg.Factory, transport, getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	var sealer *vault.Sealer
	if appCfg.Store.EncryptionKey != "" {
		if sealer, err = vault.NewSealer(appCfg.Store.EncryptionKey); err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
	}

	app.adapters = set
	app.holder = snapshot.NewHolder()
	app.holder.OnCommit(app.pruneAdapters)
	app.vault = vault.New(app.holder, app.store.Store, vault.Config{
		Sealer:    sealer,
		KnownKind: set.KnownKind,
	})
	app.registry = endpoints.New(app.holder, app.store.Store, endpoints.Config{
		Checker:         set,
		ValidateOptions: router.ValidateOptions,
	})

	if _, err := app.vault.Reload(ctx); err != nil {
		return nil, err
	}
	seeded := seedDefaults(app.vault, set, getenv)
	if err := seedConfig(ctx, app.vault, app.registry, appCfg.Credentials, appCfg.Endpoints); err != nil {
		return nil, err
	}

	app.usage, err = usage.New(ctx, app.storage, usage.Config{
		Enabled:       appCfg.Usage.Enabled,
		BufferSize:    appCfg.Usage.BufferSize,
		FlushInterval: time.Duration(appCfg.Usage.FlushInterval) * time.Second,
		RetentionDays: appCfg.Usage.RetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage tracking: %w", err)
	}

	if err := app.startNotifier(ctx); err != nil {
		return nil, err
	}

	app.router = router.New(app.holder, set, router.Config{
		RetryBackoff: appCfg.Router.RetryBackoff,
		Usage:        app.usage.Recorder,
	})
	proxy := passthrough.New(app.holder, set, passthrough.Config{
		HTTPClient: httpclient.NewStreamingClient(&transport),
		Usage:      app.usage.Recorder,
	})

	app.server = server.New(server.Deps{
		Router:      app.router,
		Relay:       relay.New(appCfg.Router.StreamCancelGrace),
		Passthrough: proxy,
		Admin: admin.NewHandler(admin.Config{
			Vault:    app.vault,
			Registry: app.registry,
			Holder:   app.holder,
			Usage:    app.usage.Reader,
		}),
	}, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   bodyLimit,
		AdminPrincipals: appCfg.Server.AdminPrincipals,
		SwaggerEnabled:  appCfg.Server.SwaggerEnabled,
	})

	app.logStartupInfo(storageCfg.Type, set, seeded)
	return app, nil
}

func buildAdapters(factory *providers.ProviderFactory, transport httpclient.ClientConfig, getenv func(string) string) (*providers.Set, error) {
	baseURLs := providers.BaseURLOverrides(getenv)
	breaker := llmclient.DefaultConfig("", "").CircuitBreaker
	return factory.BuildSet(func(kind core.ProviderKind) providers.BuildOptions {
		return providers.BuildOptions{
			BaseURL:        baseURLs[kind],
			CircuitBreaker: breaker,
			Transport:      &transport,
		}
	})
}

// startNotifier publishes every local commit and follows commits made by
// other instances sharing the store.
func (a *App) startNotifier(ctx context.Context) error {
	redisCfg := a.config.Cache.Redis
	if redisCfg.URL != "" {
		n, err := cache.NewRedisNotifier(ctx, cache.RedisConfig{URL: redisCfg.URL, Channel: redisCfg.Channel})
		if err != nil {
			return fmt.Errorf("failed to initialize change notifier: %w", err)
		}
		a.notifier = n
	} else {
		a.notifier = cache.NewLocalNotifier()
	}

	a.holder.OnCommit(func(s *snapshot.Snapshot) {
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := a.notifier.Publish(pubCtx, cache.Change{
			Instance: a.instance,
			Version:  s.Version(),
			Digest:   s.DigestString(),
			At:       time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("failed to publish configuration change", "version", s.Version(), "error", err)
		}
	})

	followCtx, cancel := context.WithCancel(context.Background())
	a.stopFollow = cancel
	a.followDone = make(chan struct{})
	go func() {
		defer close(a.followDone)
		err := cache.Follow(followCtx, a.notifier, a.instance,
			func() string { return a.holder.Current().DigestString() },
			func(ctx context.Context) error {
				snap, err := a.vault.Reload(ctx)
				if err != nil {
					return err
				}
				a.pruneAdapters(snap)
				return nil
			},
		)
		if err != nil {
			slog.Error("configuration follower stopped", "error", err)
		}
	}()
	return nil
}

// pruneAdapters drops adapter state kept for credentials s no longer holds.
func (a *App) pruneAdapters(s *snapshot.Snapshot) {
	a.adapters.Prune(func(id string) bool {
		_, ok := s.Credential(id)
		return ok
	})
}

// Vault returns the credential vault.
func (a *App) Vault() *vault.Vault { return a.vault }

// Registry returns the endpoint registry.
func (a *App) Registry() *endpoints.Registry { return a.registry }

// Router returns the request router.
func (a *App) Router() *router.Router { return a.router }

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler { return a.server }

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server (honoring ctx), change follower and notifier, usage logger
// (flushes pending entries), routing store, shared storage.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	slog.Info("application shutdown complete")
	return nil
}

// closeResources releases everything except the HTTP server. Each resource
// is closed at most once.
func (a *App) closeResources() error {
	var errs []error

	if a.stopFollow != nil {
		a.stopFollow()
		a.stopFollow = nil
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			slog.Error("notifier close error", "error", err)
			errs = append(errs, fmt.Errorf("notifier close: %w", err))
		}
		a.notifier = nil
	}
	if a.followDone != nil {
		<-a.followDone
		a.followDone = nil
	}
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
		a.usage = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		a.store = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		a.storage = nil
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the effective configuration without secrets.
func (a *App) logStartupInfo(storageType string, set *providers.Set, defaults []core.ProviderKind) {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: AIGATEWAY_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set AIGATEWAY_MASTER_KEY environment variable to secure this gateway")
	} else {
		slog.Info("authentication enabled", "mode", "master_key", "admin_principals", len(cfg.Server.AdminPrincipals))
	}

	if !a.vault.Persistent() {
		slog.Warn("AIGATEWAY_ENCRYPTION_KEY not set - credentials are kept in memory only and lost on restart")
	}

	snap := a.holder.Current()
	slog.Info("gateway configured",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", storageType,
		"notifier", notifierType(cfg.Cache.Redis.URL),
		"providers", set.Kinds(),
		"default_credentials", defaults,
		"endpoints", len(snap.Endpoints()),
		"snapshot_version", snap.Version(),
	)

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}
}

func notifierType(redisURL string) string {
	if redisURL != "" {
		return "redis"
	}
	return "local"
}
