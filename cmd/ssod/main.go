package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/config"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/gateway"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/password"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/secrets"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/store"

	// Provider engines register themselves at init.
	_ "github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider/oidc"
	_ "github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider/saml"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ssod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Infof("Starting ssod (base URL %s)", cfg.Server.BaseURL)

	hlog := logrus.New()
	hlog.SetFormatter(&logrus.JSONFormatter{})

	var providers *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		providers, err = observability.InitOTel(context.Background(), observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Secret material: validated by config, constructed once here.
	key, err := cfg.Secrets.EncryptionKey()
	if err != nil {
		return err
	}
	secretSvc, err := secrets.NewService(key)
	if err != nil {
		return err
	}
	passwordSvc, err := password.NewService(cfg.Secrets.Pepper, cfg.Secrets.AppName)
	if err != nil {
		return err
	}

	// Ephemeral state store.
	var (
		states      statestore.Store
		redisClient *redis.Client
		limiter     *gateway.RateLimiter
	)
	switch cfg.State.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.State.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		states = statestore.NewRedisStoreWithClient(redisClient)
		limiter = gateway.NewRateLimiter(redisClient, cfg.Providers.RateLimit, cfg.Providers.RateLimitWin)
		logger.Info("State store: redis")
	case "memory":
		states = statestore.NewMemoryStore()
		logger.Warn("State store: memory (single replica only; flows do not survive restarts)")
	}
	states = statestore.WithMetrics(states, metrics.StateStoreOpsTotal, metrics.StateStoreErrorsTotal)

	// Provider configuration store.
	var (
		configs store.ConfigStore
		db      *sql.DB
	)
	switch cfg.Providers.Backend {
	case "postgres":
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			URL:      cfg.Providers.PostgresURL,
			MaxConns: cfg.Providers.MaxConns,
			MinConns: cfg.Providers.MinConns,
		}, secretSvc)
		if err != nil {
			return err
		}
		configs = pg
		db = pg.DB()
		logger.Info("Config store: postgres")
	case "yaml":
		ys, err := store.NewYAMLStore(cfg.Providers.YAMLPath, logger)
		if err != nil {
			return err
		}
		configs = ys
		logger.Infof("Config store: yaml (%s)", cfg.Providers.YAMLPath)
	}

	gw, err := gateway.NewGateway(gateway.Options{
		BaseURL:              cfg.Server.BaseURL,
		Configs:              configs,
		States:               states,
		Passwords:            passwordSvc,
		Metrics:              metrics,
		Logger:               logger,
		HandlerLogger:        hlog,
		IdPClient:            &http.Client{Timeout: cfg.Providers.IdPTimeout},
		EngineCacheSize:      cfg.Providers.EngineCache,
		EngineCachePurgeSpec: cfg.Providers.CachePurge,
		Limiter:              limiter,
	})
	if err != nil {
		return err
	}
	gw.Start()

	router := mux.NewRouter()
	router.Use(gateway.RequestIDMiddleware)
	router.Use(observability.RecoveryMiddleware(logger))
	if cfg.Observability.MetricsEnabled {
		router.Use(gateway.MetricsMiddleware(metrics))
	}
	gw.RegisterRoutes(router)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "ssod")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.Infof("Health server listening on :%s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		gw.Close()
		return nil
	})
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return configs.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(providers.Shutdown)
	}

	go func() {
		logger.Infof("Gateway listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}
