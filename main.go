package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connect/server/internal/chat"
	"connect/server/internal/config"
	"connect/server/internal/database"
	"connect/server/internal/handlers"
	"connect/server/internal/logger"
	"connect/server/internal/media"
	"connect/server/internal/metrics"
	"connect/server/internal/mirror"
	"connect/server/internal/models"
	"connect/server/internal/notify"
	"connect/server/internal/repository"
	"connect/server/internal/routes"
	"connect/server/internal/slowmode"
	"connect/server/internal/utils"
	"connect/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	slowModeTTL      = time.Hour
	slowModeSweep    = 10 * time.Minute
	shutdownDeadline = 10 * time.Second
)

func openStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return repository.NewMemory(), nil
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return repository.NewPostgres(pool), nil
}

func promoteAdmins(ctx context.Context, store repository.Store, usernames []string) {
	for _, u := range usernames {
		err := store.SetGlobalRole(ctx, u, models.RoleMod)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Warn().Str("user", u).Msg("admin account does not exist yet")
		case err != nil:
			log.Error().Err(err).Str("user", u).Msg("promote admin")
		default:
			log.Info().Str("user", u).Msg("admin promoted")
		}
	}
}

// writeVAPIDKeys prints a fresh key pair in .env form.
func writeVAPIDKeys(w io.Writer) error {
	private, public, err := notify.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
	return err
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		if err := writeVAPIDKeys(os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("Failed to generate VAPID keys")
		}
		return
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}
	cfg := config.Load()
	logger.Init(cfg.Env)

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()
	promoteAdmins(ctx, store, cfg.AdminUsernames)

	storage, err := media.NewStorage(cfg.UploadDir, cfg.BackendURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}

	hub := websocket.NewHub()
	gate := slowmode.New(slowModeTTL)
	go gate.Run(slowModeSweep)

	var pusher notify.Pusher
	if cfg.PushEnabled() {
		pusher = notify.NewWebPush(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	} else {
		log.Warn().Msg("VAPID keys not set, offline push disabled (run with vapid-keys to create a pair)")
	}
	bridge := notify.NewBridge(store, hub, pusher)

	var m chat.Mirror
	if d := mirror.NewDiscord(cfg.DiscordWebhookURL); d != nil {
		m = d
	}
	service := chat.NewService(store, hub, gate, bridge, m)

	jwt := utils.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	h := handlers.New(handlers.Config{
		Store:           store,
		JWT:             jwt,
		Hub:             hub,
		Sessions:        service,
		Media:           storage,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		SecureCookies:   cfg.Env == "production",
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
	})

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "Connect API v1.0",
		BodyLimit: 60 * 1024 * 1024,
	})

	// Middleware
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowCredentials: true,
	}))
	app.Use(metrics.Middleware())

	// Setup routes
	routes.SetupRoutes(app, h, routes.Config{
		JWTSecret: jwt.Secret(),
		Users:     store,
		UploadDir: storage.Dir(),
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down")
		service.Shutdown()
		if err := app.ShutdownWithTimeout(shutdownDeadline); err != nil {
			log.Error().Err(err).Msg("Server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
