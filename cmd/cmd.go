package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doodle-sync-backend/internal/blob"
	"doodle-sync-backend/internal/config"
	"doodle-sync-backend/internal/glance"
	"doodle-sync-backend/internal/handlers"
	"doodle-sync-backend/internal/middleware"
	"doodle-sync-backend/internal/notify"
	"doodle-sync-backend/internal/repository/postgres"
	"doodle-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize store
	store := postgres.New(ctx, db)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Initialize blob store
	blobs, err := blob.NewS3(ctx, blob.S3Config{
		Region:    cfg.AWS.Region,
		Bucket:    cfg.AWS.S3Bucket,
		AccessKey: cfg.AWS.AccessKey,
		SecretKey: cfg.AWS.SecretKey,
		Endpoint:  cfg.AWS.Endpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob store")
	}

	// Initialize glance cache
	cache, err := glance.New(cfg.Glance.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create glance cache")
	}

	// Initialize services
	identity := services.NewIdentityService(store, cfg.JWT.Secret)
	registry := services.NewSessionRegistry()

	// Initialize handlers
	userHandler := handlers.NewUserHandler(identity)
	drawingHandler := handlers.NewDrawingHandler(store)
	wsHandler := handlers.NewWebSocketHandler(registry, identity, store, blobs, cache)

	// Push dispatcher is optional; it runs when APNs credentials are set.
	if cfg.APNs.AuthKeyPath != "" {
		dispatcher, err := notify.New(store, notify.Config{
			AuthKeyPath: cfg.APNs.AuthKeyPath,
			KeyID:       cfg.APNs.KeyID,
			TeamID:      cfg.APNs.TeamID,
			Topic:       cfg.APNs.Topic,
			Production:  cfg.APNs.Production,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push dispatcher")
		}
		go func() {
			if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Push dispatcher stopped")
			}
		}()
	}

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
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(identity))
			r.Put("/users/device-token", userHandler.UpdateDeviceToken)
			r.Get("/drawings/{drawing_id}", drawingHandler.GetDrawing)
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
