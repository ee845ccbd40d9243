// Package app assembles the hub from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/common/messaging"
	natsclient "github.com/telhawk-systems/resulthub/common/messaging/nats"
	redisclient "github.com/telhawk-systems/resulthub/common/messaging/redis"
	"github.com/telhawk-systems/resulthub/internal/activity"
	"github.com/telhawk-systems/resulthub/internal/config"
	"github.com/telhawk-systems/resulthub/internal/dispatcher"
	"github.com/telhawk-systems/resulthub/internal/enricher"
	"github.com/telhawk-systems/resulthub/internal/handlers"
	"github.com/telhawk-systems/resulthub/internal/registry"
	"github.com/telhawk-systems/resulthub/internal/server"
	"github.com/telhawk-systems/resulthub/internal/store"
	"github.com/telhawk-systems/resulthub/internal/tokens"
	"github.com/telhawk-systems/resulthub/internal/translator"
	"github.com/telhawk-systems/resulthub/internal/ws"
)

// ErrMissingSecret is returned when no token secret is configured.
var ErrMissingSecret = errors.New("auth.secret must be set")

// App is a fully wired hub.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	rdb        *goredis.Client
	broker     messaging.Client
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	recorder   *activity.Recorder
	router     http.Handler

	closers []func()
}

// Option overrides a collaborator, mainly for tests.
type Option func(*App)

// WithRedis shares an existing Redis client with the broker and cache.
func WithRedis(rdb *goredis.Client) Option {
	return func(a *App) { a.rdb = rdb }
}

// WithStore replaces the configured document store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// New connects to the broker and document store and wires every component.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (_ *App, err error) {
	if cfg.Auth.Secret == "" {
		return nil, ErrMissingSecret
	}
	if logger == nil {
		logger = logging.Nop()
	}

	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.connectBroker(ctx); err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	kinds := store.NewKinds()
	if cfg.Store.KindsFile != "" {
		kinds, err = store.LoadKinds(cfg.Store.KindsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded record kinds", "file", cfg.Store.KindsFile, "kinds", kinds.Len())
	}

	enrichOpts := []enricher.Option{enricher.WithTimeout(cfg.Store.LookupTimeout)}
	if cfg.Enrichment.CacheEnabled {
		enrichOpts = append(enrichOpts, enricher.WithCache(enricher.NewCache(a.redis(), cfg.Enrichment.CacheTTL)))
		logger.Info("image cache enabled", "ttl", cfg.Enrichment.CacheTTL.String())
	}
	enr := enricher.New(a.store, logger.With("component", "enricher"), enrichOpts...)

	if err := a.openActivity(ctx); err != nil {
		return nil, err
	}

	a.registry = registry.New(logger.With("component", "registry"),
		registry.WithSendBuffer(cfg.WebSocket.SendBuffer),
		registry.WithMaxConnections(cfg.WebSocket.MaxConnections),
	)

	a.dispatcher = dispatcher.New(a.broker, cfg.Broker.Channel, translator.New(enr), a.registry,
		logger.With("component", "dispatcher"))

	handler := handlers.NewHandler(handlers.Config{
		Connections:  a.registry,
		Verifier:     tokens.NewTokenGenerator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Store:        a.store,
		Kinds:        kinds,
		Enricher:     enr,
		Activity:     a.recorder,
		QueryTimeout: cfg.Store.QueryTimeout,
		Logger:       logger.With("component", "handlers"),
	})

	wsServer := ws.NewServer(a.registry, handler, ws.Options{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger.With("component", "ws"))

	a.router = server.NewRouter(server.Routes{
		WebSocketPath: cfg.WebSocket.Path,
		WebSocket:     wsServer,
		Broker:        a.broker,
		Connections:   a.registry,
	})

	return a, nil
}

// redis returns the shared Redis client, creating it on first use.
func (a *App) redis() *goredis.Client {
	if a.rdb == nil {
		a.rdb = goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		rdb := a.rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}
	return a.rdb
}

func (a *App) connectBroker(ctx context.Context) error {
	var rdb *goredis.Client
	if a.cfg.Broker.Backend != messaging.BackendNATS {
		rdb = a.redis()
	}

	broker, err := ConnectBroker(ctx, a.cfg, rdb, a.logger)
	if err != nil {
		return err
	}
	a.broker = broker
	a.closers = append(a.closers, func() { _ = broker.Close() })
	a.logger.Info("connected to broker", "backend", a.cfg.Broker.Backend, logging.Channel(a.cfg.Broker.Channel))
	return nil
}

// ConnectBroker opens the configured broadcast channel backend. For the redis
// backend a non-nil rdb is borrowed, otherwise a dedicated client is dialed.
func ConnectBroker(ctx context.Context, cfg *config.Config, rdb *goredis.Client, logger *logging.Logger) (messaging.Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	switch cfg.Broker.Backend {
	case messaging.BackendNATS:
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait

		client, err := natsclient.NewClient(natsCfg, logger.With("component", "nats"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return client, nil
	default:
		if rdb == nil {
			client, err := redisclient.NewClient(ctx, redisclient.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, logger.With("component", "redis"))
			if err != nil {
				return nil, err
			}
			return client, nil
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisclient.NewFromRedis(rdb, logger.With("component", "redis")), nil
	}
}

func (a *App) openStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case "memory":
		a.store = store.NewMemoryStore()
		a.logger.Warn("using in-memory document store")
	default:
		s, err := store.NewOpenSearchStore(store.OpenSearchConfig{
			URL:          a.cfg.OpenSearch.URL,
			Username:     a.cfg.OpenSearch.Username,
			Password:     a.cfg.OpenSearch.Password,
			Insecure:     a.cfg.OpenSearch.Insecure,
			ResultsIndex: a.cfg.Store.ResultsIndex,
			ImagesIndex:  a.cfg.Store.ImagesIndex,
			MaxResults:   a.cfg.Store.MaxResults,
		})
		if err != nil {
			return err
		}
		if err := s.EnsureResultsIndex(ctx); err != nil {
			return err
		}
		a.store = s
		a.logger.Info("connected to opensearch", "url", a.cfg.OpenSearch.URL)
	}
	return nil
}

func (a *App) openActivity(ctx context.Context) error {
	var repo activity.Repository
	if a.cfg.Activity.Enabled {
		connString := a.cfg.Activity.Postgres.ConnString()
		if err := activity.Migrate(connString); err != nil {
			return err
		}
		pg, err := activity.NewPostgresRepository(ctx, connString)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		repo = pg
		a.logger.Info("activity recording enabled", "host", a.cfg.Activity.Postgres.Host)
	}
	a.recorder = activity.NewRecorder(repo, a.cfg.Activity.WriteTimeout, a.logger.With("component", "activity"))
	return nil
}

// Handler returns the HTTP handler serving the websocket, health and metrics
// endpoints.
func (a *App) Handler() http.Handler {
	return a.router
}

// Start subscribes to the broadcast channel.
func (a *App) Start() error {
	return a.dispatcher.Start()
}

// Shutdown stops intake, drains in-flight deliveries, then disconnects every
// client.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.dispatcher.Stop(ctx)
	if n := a.registry.CloseAll(); n > 0 {
		a.logger.Info("closed client connections", "count", n)
	}
	a.recorder.Wait()
	return err
}

// Close releases broker, store and database connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:     a.router,
		ReadTimeout: a.cfg.Server.ReadTimeout,
		IdleTimeout: a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("result hub listening", "addr", srv.Addr, "websocket_path", a.cfg.WebSocket.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("dispatcher did not drain", logging.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
