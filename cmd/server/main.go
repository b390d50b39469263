package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/config"
	"github.com/wagate/gateway-server-go/internal/credstore"
	"github.com/wagate/gateway-server-go/internal/database"
	"github.com/wagate/gateway-server-go/internal/handler"
	"github.com/wagate/gateway-server-go/internal/jobs"
	"github.com/wagate/gateway-server-go/internal/middleware"
	"github.com/wagate/gateway-server-go/internal/notify"
	"github.com/wagate/gateway-server-go/internal/redis"
	"github.com/wagate/gateway-server-go/internal/repository"
	"github.com/wagate/gateway-server-go/internal/service"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/transport/whatsmeowgw"
	"github.com/wagate/gateway-server-go/internal/whatsapp"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("GO_ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database schema")
	}
	migrateCancel()

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	creds, err := credstore.New(cfg.SessionsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare credential store")
	}

	userRepo := repository.NewUserRepository(db.DB)
	sessionRepo := repository.NewWaSessionRepository(db.DB)

	tokens := token.NewManager(cfg.SessionTokenSecret, cfg.JWTSecret)

	broker := notify.NewBroker(redisClient)
	defer broker.Close()

	factory := whatsmeowgw.NewFactory(creds, log.Logger)
	webhooks := whatsapp.NewHTTPWebhookSender(cfg.WebhookTimeout())

	core := whatsapp.NewService(cfg, userRepo, sessionRepo, tokens, creds, factory, broker, webhooks)
	authService := service.NewAuthService(userRepo, tokens)

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	sessionTokenMiddleware := middleware.NewSessionTokenMiddleware(tokens, core)
	sendRateLimit := middleware.NewSendRateLimitMiddleware(redisClient.Client, cfg.SendRateLimitPerMin)

	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(core)
	messageHandler := handler.NewMessageHandler(core)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", authHandler.Routes())
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(authMiddleware.Handler)
		r.Mount("/", sessionHandler.Routes())
	})

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(sessionTokenMiddleware.Handler)
		r.Use(sendRateLimit.Handler)
		r.Mount("/", messageHandler.Routes())
	})

	// SSE stays outside the request timeout so streams can outlive it.
	r.Route("/api/events", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(
		sessionRepo, creds, core, config.OrphanSweepInterval, config.OrphanSweepGrace,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	go func() {
		restored := core.RestoreAll(context.Background())
		log.Info().Int("count", restored).Msg("session restore finished")
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	core.Close()

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
