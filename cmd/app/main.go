package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wichananm65/participant-service/internal/config"
	"github.com/wichananm65/participant-service/internal/logger"
	"github.com/wichananm65/participant-service/internal/metrics"
	"github.com/wichananm65/participant-service/internal/participant"
	"github.com/wichananm65/participant-service/internal/recordstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a fatal run error and flushes the logger before the process
// exits, since os.Exit skips deferred calls.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("participant service stopped", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	instrumented := recordstore.NewInstrumentedStore(store, cfg.StoreBackend, m)

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	service := participant.NewService(instrumented,
		participant.WithPolicy(policy),
		participant.WithLogger(log.Named("participant")),
		participant.WithMetrics(m),
	)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	setupCORS(app, cfg.CORSAllowOrigins)
	app.Use(logger.Middleware(log.Named("http")))
	app.Use(metrics.Middleware(m))

	app.Get("/healthz", healthHandler(instrumented))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	participant.NewHandler(service, log.Named("participant")).RegisterPublicRoutes(app)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", cfg.Addr),
			zap.String("backend", cfg.StoreBackend),
			zap.Stringer("write_policy", policy),
		)
		errCh <- app.Listen(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
}

func setupCORS(app *fiber.App, origins string) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (recordstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := recordstore.NewPostgresStore(db, cfg.Collection)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case config.BackendRedis:
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return recordstore.NewRedisStore(client, cfg.Collection), func() { client.Close() }, nil
	default:
		log.Warn("using in-memory record store; data is lost on restart")
		return recordstore.NewMemoryStore(cfg.Collection), func() {}, nil
	}
}

func openDB(ctx context.Context, dbURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func healthHandler(store recordstore.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": fiber.StatusServiceUnavailable, "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": fiber.StatusOK, "message": "ok"})
	}
}
