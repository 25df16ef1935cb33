package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djyosi/rubisos/internal/config"
	"github.com/djyosi/rubisos/internal/handlers"
	"github.com/djyosi/rubisos/internal/middleware"
	"github.com/djyosi/rubisos/internal/push"
	"github.com/djyosi/rubisos/internal/repository"
	"github.com/djyosi/rubisos/internal/services"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Storage: in-memory by default, Postgres when configured
	var store repository.Store = repository.NewMemoryStore()
	if cfg.Database.Enabled {
		db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.Ping(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		log.Info().Msg("Database connection established")
		store = struct {
			*repository.UserRepository
			*repository.AlertRepository
		}{repository.NewUserRepository(db), repository.NewAlertRepository(db)}
	}

	// Push provider
	var pusher push.Pusher = push.NopPusher{}
	if cfg.APNS.Enabled {
		apns, err := push.NewAPNSPusher(cfg.APNS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push provider")
		}
		pusher = apns
		log.Info().Str("topic", cfg.APNS.Topic).Msg("Push provider configured")
	}

	// Dispatch engine
	registry := services.NewPresenceRegistry(cfg.Dispatch.DefaultRadiusKm, store)
	matcher := services.NewMatcher(registry)
	alerts := services.NewAlertManager(cfg.Dispatch.AlertTTL(), store)
	notifier := services.NewNotifier(registry, pusher)
	dispatcher := services.NewDispatcher(registry, matcher, alerts, notifier)
	userService := services.NewUserService(registry, cfg.JWT.Secret)

	// Expiry sweeper
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Dispatch.SweepSpec, func() {
		if expired := alerts.SweepExpired(time.Now()); len(expired) > 0 {
			log.Info().Int("count", len(expired)).Msg("expired alerts swept")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Dispatch.SweepSpec).Msg("Failed to schedule expiry sweep")
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService, registry, matcher, dispatcher)
	alertHandler := handlers.NewAlertHandler(alerts, dispatcher, cfg.Dispatch)
	wsHandler := handlers.NewWebSocketHandler(dispatcher, userService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.RegisterUser)
		r.Get("/users/nearby", userHandler.NearbyHelpers)
		r.Get("/health", alertHandler.Health)
		r.Get("/alerts/nearby", alertHandler.Nearby)
		r.Get("/alerts/{alert_id}", alertHandler.Get)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Patch("/users/settings", userHandler.UpdateSettings)
			r.Patch("/users/location", userHandler.UpdateLocation)
			r.Get("/alerts", alertHandler.Mine)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout. In-flight notifications are
	// best-effort and may be dropped.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
