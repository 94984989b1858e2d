package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
	"github.com/vasiliy-maslov/online-store/internal/config"
	"github.com/vasiliy-maslov/online-store/internal/db"
	"github.com/vasiliy-maslov/online-store/internal/handler"
	"github.com/vasiliy-maslov/online-store/internal/idempotency"
	"github.com/vasiliy-maslov/online-store/internal/identity"
	"github.com/vasiliy-maslov/online-store/internal/order"
	"github.com/vasiliy-maslov/online-store/internal/storage/memory"
	"github.com/vasiliy-maslov/online-store/internal/telemetry"
	"github.com/vasiliy-maslov/online-store/internal/transport"
)

const shutdownTimeout = 10 * time.Second

type storage struct {
	products order.ProductReader
	tx       order.Transactor
	history  order.HistoryReader
	writer   catalog.Writer
	pinger   transport.Pinger
	close    func()
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg)
	log.Info().Str("storage_driver", cfg.App.StorageDriver).Msg("Store service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to flush traces")
		}
	}()

	// Хранилище: Postgres или память, в зависимости от конфига
	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	// Начальное наполнение каталога
	if cfg.App.CatalogSeedFile != "" {
		seed, err := catalog.LoadSeed(cfg.App.CatalogSeedFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load catalog seed")
		}
		if err := seed.Apply(ctx, store.writer); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply catalog seed")
		}
	}

	guard, closeGuard := newIdempotencyGuard(ctx, cfg)
	defer closeGuard()

	svc := order.NewService(store.products, store.tx, store.history, order.ServiceConfig{
		PlacementTimeout: cfg.Orders.PlacementTimeout,
		MaxItems:         cfg.Orders.MaxItems,
	})

	router := transport.NewRouter(transport.RouterDeps{
		Orders:      handler.NewOrderHandler(svc, guard),
		Auth:        identity.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Storage:     store.pinger,
		Logger:      log.Logger,
		ServiceName: cfg.App.Name,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Orders.PlacementTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Сервер и graceful shutdown в одной группе
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.App.StorageDriver {
	case config.StorageDriverMemory:
		mem := memory.NewStore(cfg.Orders.LockTimeout)
		return &storage{
			products: mem.Catalog(),
			tx:       mem,
			history:  mem.History(),
			writer:   mem,
			pinger:   mem,
			close:    func() {},
		}, nil
	default:
		pg, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}

		if cfg.Postgres.AutoMigrate {
			if err := pg.ApplyMigrations(cfg.Postgres.MigrationsPath); err != nil {
				pg.Close()
				return nil, err
			}
		}

		sqlxDB := pg.SQLX()
		catalogRepo := catalog.NewRepository(pg.Pool)

		return &storage{
			products: catalogRepo,
			tx:       db.NewTransactor(pg.Pool, cfg.Orders.LockTimeout),
			history:  order.NewHistoryRepository(sqlxDB),
			writer:   catalogRepo,
			pinger:   pg,
			close: func() {
				_ = sqlxDB.Close()
				pg.Close()
			},
		}, nil
	}
}

// newIdempotencyGuard prefers Redis, falls back to process memory for the
// memory driver, and disables Idempotency-Key support otherwise.
func newIdempotencyGuard(ctx context.Context, cfg *config.Config) (*idempotency.Guard, func()) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable, idempotency keys will fail open")
		} else {
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		return idempotency.NewGuard(idempotency.NewRedisStore(client, cfg.Redis.IdempotencyTTL)), func() {
			_ = client.Close()
		}
	}

	if cfg.App.StorageDriver == config.StorageDriverMemory {
		return idempotency.NewGuard(idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)), func() {}
	}

	log.Info().Msg("Idempotency-Key support disabled: REDIS_ADDR not set")
	return nil, func() {}
}
