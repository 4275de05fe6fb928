package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"odometer-backend/internal/api/routes"
	"odometer-backend/internal/config"
	"odometer-backend/internal/models/catalog"
	"odometer-backend/internal/repository"
	"odometer-backend/internal/repository/memory"
	"odometer-backend/internal/repository/postgres"
	"odometer-backend/internal/websocket"
	"odometer-backend/pkg/database"
	"odometer-backend/pkg/redis"
	"odometer-backend/pkg/reminder"
	"odometer-backend/pkg/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := config.Load()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Initialize Redis client
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(cfg.Redis)
		defer redisClient.Close()

		healthStatus := redisClient.HealthCheck()
		if healthStatus.IsConnected {
			log.Printf("Redis connected successfully at %s", healthStatus.ConnectionInfo)
		} else {
			log.Printf("Redis connection failed: %s (will retry automatically)", healthStatus.Error)
		}
	} else {
		log.Println("Redis disabled, reminders are kept in memory")
	}

	// Reminder queue and delivery
	var queue reminder.Queue = reminder.NewMemoryDispatcher()
	if redisClient != nil {
		queue = reminder.NewRedisDispatcher(redisClient, cfg.Reminder.KeyPrefix)
	}

	var sender reminder.Sender = reminder.LogSender{}
	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := reminder.NewFCMSender(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Fatal("Failed to initialize Firebase messaging:", err)
		}
		sender = fcm
		log.Println("Firebase messaging enabled")
	}

	worker := reminder.NewWorker(queue, sender, cfg.Reminder.PollInterval, cfg.Reminder.BatchSize)
	go worker.Start(ctx)
	defer worker.Stop()

	items, err := catalog.Default()
	if err != nil {
		log.Fatal("Failed to load maintenance catalog:", err)
	}

	broadcaster := websocket.NewManager(cfg.AllowedOrigins)
	if err := broadcaster.Start(); err != nil {
		log.Fatal("Failed to start trip broadcaster:", err)
	}
	defer broadcaster.Stop()

	// Setup Gin router
	router := gin.Default()

	// CORS middleware
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol"},
		ExposeHeaders: []string{"Content-Length"},
	}

	// Handle wildcard origin for development
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false // Cannot use credentials with AllowAllOrigins
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}

	router.Use(cors.New(corsConfig))

	// Setup routes
	routes.SetupRoutes(router, routes.Dependencies{
		Config:      cfg,
		Store:       store,
		RedisClient: redisClient,
		Dispatcher:  queue,
		Catalog:     items,
		Feeds:       telemetry.NewFeedRegistry(cfg.Tracking.LocationGranted),
		Broadcaster: broadcaster,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// openStore connects the configured backend and returns a matching close func.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func()) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			log.Fatal("Failed to apply schema:", err)
		}
		return postgres.NewStore(pool), pool.Close

	case config.StoreMemory:
		log.Println("Using in-memory store, data is lost on restart")
		return memory.NewStore(), func() {}

	default:
		db, err := database.Connect(cfg.MongoURI)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		return repository.NewMongoStore(db), func() {
			if err := database.Disconnect(db.Client()); err != nil {
				log.Printf("Failed to disconnect from MongoDB: %v", err)
			}
		}
	}
}
