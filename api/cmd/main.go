package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/tablebook/internal/audit"
	"github.com/baechuer/tablebook/internal/catalog"
	"github.com/baechuer/tablebook/internal/config"
	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/infrastructure/memory"
	mongostore "github.com/baechuer/tablebook/internal/infrastructure/mongo"
	"github.com/baechuer/tablebook/internal/infrastructure/postgres"
	"github.com/baechuer/tablebook/internal/infrastructure/rabbitmq"
	rediscache "github.com/baechuer/tablebook/internal/infrastructure/redis"
	"github.com/baechuer/tablebook/internal/notify"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/baechuer/tablebook/internal/security"
	"github.com/baechuer/tablebook/internal/service"
	"github.com/baechuer/tablebook/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "tablebook").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Catalog ----
	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("catalog load failed")
		}
		log.Info().Str("file", cfg.CatalogFile).Msg("catalog loaded")
	}

	// ---- Redis ----
	// Used as a store backend, for shared rate limits and for the notify
	// relay. Only the store backend makes it mandatory.
	cache := rediscache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer func() { _ = cache.Close() }()

	redisUp := false
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		if err := cache.Ping(pingCtx); err != nil {
			if cfg.StoreBackend == config.BackendRedis {
				log.Fatal().Err(err).Msg("redis ping failed")
			}
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			redisUp = true
			log.Info().Msg("redis connected")
		}
	}

	// ---- Store ----
	store, closeStore, err := openStore(rootCtx, cfg, cache, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store init failed")
	}
	defer closeStore()
	log.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	// ---- Notifications ----
	var relay notify.Relay
	if cfg.NotifyRelay {
		if !redisUp {
			log.Fatal().Msg("NOTIFY_RELAY requires redis")
		}
		relay = rediscache.NewRelay(cache.Client, rediscache.DefaultRelayChannel)
	}
	hub := notify.NewHub(service.NewSnapshots(store), relay)
	go func() {
		if err := hub.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("notify relay stopped")
		}
	}()

	stopRollover, err := notify.StartRollover(rootCtx, hub, cfg.RolloverCron, cfg.Location)
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.RolloverCron).Msg("rollover schedule invalid")
	}
	defer stopRollover()

	// ---- Domain events (outbound) ----
	var publisher domain.Publisher = rabbitmq.NoopPublisher{}
	if cfg.EventsPublish {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq publisher init failed")
		}
		defer func() { _ = p.Close() }()
		publisher = p
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("event publishing enabled")
	}

	// ---- Application service ----
	svc := service.New(service.Deps{
		Store:       store,
		Catalog:     cat,
		Notifier:    hub,
		Publisher:   publisher,
		Audit:       audit.New(logger.Component("audit")),
		MaxAttempts: cfg.TxMaxAttempts,
		Location:    cfg.Location,
	})
	h := rest.NewHandler(svc, hub, cfg.CORSOrigins)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer)

	// ---- Router ----
	deps := rest.RouterDeps{
		Handler:  h,
		Verifier: verifier,
		RateLimit: rest.RateLimit{
			Enabled: cfg.RLEnabled,
			Limit:   cfg.RLLimit,
			Window:  cfg.RLWindow,
		},
		CORSOrigins: cfg.CORSOrigins,
	}
	if redisUp {
		deps.Limiter = cache
	}
	httpHandler := rest.NewRouter(deps)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// stream connections stay open; the stream sets its own write deadlines
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return rootCtx
		},
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

// openStore builds the configured backend. The returned func releases its
// connections.
func openStore(ctx context.Context, cfg *config.Config, cache *rediscache.Cache, log zerolog.Logger) (domain.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return rediscache.NewStore(cache.Client), func() {}, nil

	case config.BackendPostgres:
		if cfg.DBMigrate {
			if err := postgres.Migrate(cfg.DBDSN); err != nil {
				return nil, nil, err
			}
			log.Info().Msg("postgres migrations applied")
		}
		pool, err := pgxpool.New(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().Msg("postgres connected")
		return postgres.New(pool), pool.Close, nil

	case config.BackendMongo:
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongostore.Connect(connCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		s := mongostore.New(client, cfg.MongoDatabase)
		if err := s.EnsureIndexes(connCtx); err != nil {
			closeFn()
			return nil, nil, err
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("mongo connected")
		return s, closeFn, nil

	default:
		log.Warn().Msg("in-memory store: data is lost on restart")
		return memory.New(), func() {}, nil
	}
}
