package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devpulse/devpulse-server/internal/api"
	"github.com/devpulse/devpulse-server/internal/channel"
	"github.com/devpulse/devpulse-server/internal/config"
	"github.com/devpulse/devpulse-server/internal/gateway"
	"github.com/devpulse/devpulse-server/internal/httputil"
	"github.com/devpulse/devpulse-server/internal/identity"
	"github.com/devpulse/devpulse-server/internal/postgres"
	"github.com/devpulse/devpulse-server/internal/prefs"
	"github.com/devpulse/devpulse-server/internal/presence"
	"github.com/devpulse/devpulse-server/internal/user"
	"github.com/devpulse/devpulse-server/internal/valkey"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Msg("Starting DevPulse Server")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer rdb.Close()
	log.Info().Msg("Valkey connected")

	users := user.NewPGRepository(db, log.Logger)
	prefsRepo := prefs.NewPGRepository(db, log.Logger)
	channels := channel.NewPGRepository(db, log.Logger)
	adapter := identity.NewGitHub(cfg.IdentityBaseURL, cfg.IdentityTimeout, log.Logger)
	cache := presence.NewStore(rdb, cfg.StatusCacheTTL)

	hub := gateway.NewHub(cfg, rdb, users, prefsRepo, channels, adapter, cache, log.Logger)

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Gateway consume loop stopped")
		}
	}()
	go hub.RunSweeper(hubCtx)

	app := fiber.New(fiber.Config{
		AppName: "DevPulse",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, httputil.StatusToCode(status), message)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))

	registerRoutes(app, db, rdb, hub)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		hubCancel()
		hub.Shutdown()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func registerRoutes(app *fiber.App, db api.Pinger, rdb *redis.Client, hub *gateway.Hub) {
	health := api.NewHealthHandler(db, redisPinger{client: rdb})
	app.Get("/healthz", health.Health)

	gw := api.NewGatewayHandler(hub)
	app.Get("/gateway", gw.Upgrade)
}

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
