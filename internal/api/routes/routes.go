package routes

import (
	"log"
	"time"

	"odometer-backend/internal/api/handlers"
	"odometer-backend/internal/api/middleware"
	"odometer-backend/internal/config"
	"odometer-backend/internal/models/catalog"
	"odometer-backend/internal/repository"
	"odometer-backend/internal/services"
	"odometer-backend/internal/websocket"
	"odometer-backend/pkg/cache"
	"odometer-backend/pkg/jwt"
	"odometer-backend/pkg/ratelimit"
	"odometer-backend/pkg/redis"
	"odometer-backend/pkg/reminder"
	"odometer-backend/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

// Dependencies are the long-lived components built in main.
type Dependencies struct {
	Config      *config.Config
	Store       repository.Store
	RedisClient *redis.Client // nil runs without the cache
	Dispatcher  reminder.Dispatcher
	Catalog     *catalog.Catalog
	Feeds       *telemetry.FeedRegistry
	Broadcaster *websocket.Manager
}

// Services exposes the wired services to main and tests.
type Services struct {
	Vehicles    *services.VehicleService
	Trips       *services.TripService
	Maintenance *services.MaintenanceService
	Reconciler  *services.OdometerReconciler
}

func SetupRoutes(router *gin.Engine, deps Dependencies) *Services {
	cfg := deps.Config

	// Initialize services
	reconciler := services.NewOdometerReconciler(deps.Store, cfg.Tracking)
	vehicleService := services.NewVehicleService(deps.Store)
	maintenanceService := services.NewMaintenanceService(deps.Store, deps.Catalog, deps.Dispatcher, cfg.Reminder)
	maintenanceService.SetOdometerSource(reconciler)
	tripService := services.NewTripService(deps.Store, deps.Feeds, reconciler, cfg.Tracking)
	tripService.SetReminderEvaluator(maintenanceService)
	tripService.SetLiveDueWatcher(maintenanceService)
	tripService.SetProgressPublisher(deps.Broadcaster)

	limiterConfig := rateLimitConfig(cfg.RateLimit)
	var limiter ratelimit.RateLimiter = ratelimit.NewMemoryRateLimiter(limiterConfig)

	var cacheManager cache.CacheManager
	if deps.RedisClient != nil {
		cacheManager = cache.NewRedisCacheManager(deps.RedisClient, cache.DefaultCacheConfig())
		vehicleService.SetCacheManager(cacheManager)
		reconciler.SetCacheManager(cacheManager)
		maintenanceService.SetCacheManager(cacheManager)
		log.Println("Vehicle cache enabled")

		limiter = ratelimit.NewRedisRateLimiter(deps.RedisClient, limiterConfig)
	}
	limit := func(category string) gin.HandlerFunc {
		return middleware.RateLimitMiddleware(limiter, category)
	}

	jwtUtil := jwt.NewJWTUtil(cfg.JWTSecret, cfg.JWTExpiry)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(deps.Store, cfg.StoreDriver, deps.RedisClient)
	if cacheManager != nil {
		healthHandler.SetCacheManager(cacheManager)
	}
	tripHandler := handlers.NewTripHandler(tripService)
	sampleHandler := handlers.NewSampleHandler(deps.Feeds, deps.Broadcaster.GetUpgrader())
	liveHandler := handlers.NewWebSocketHandler(deps.Broadcaster)
	vehicleHandler := handlers.NewVehicleHandler(vehicleService, reconciler, cfg.Tracking.PeriodLocation)
	maintenanceHandler := handlers.NewMaintenanceHandler(maintenanceService, vehicleService, tripService)

	router.GET("/health", healthHandler.HealthCheck)

	// WebSocket routes accept the token as a query parameter
	ws := router.Group("/ws")
	ws.Use(middleware.WebSocketAuthMiddleware(jwtUtil))
	{
		ws.GET("/trips/live", liveHandler.HandleWebSocket)
		ws.GET("/trips/samples", sampleHandler.HandleDeviceStream)
	}

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtUtil))
	{
		trips := api.Group("/trips")
		{
			commands := limit(ratelimit.CategoryTripCommands)
			trips.POST("/start", commands, tripHandler.StartTrip)
			trips.POST("/pause", commands, tripHandler.PauseTrip)
			trips.POST("/resume", commands, tripHandler.ResumeTrip)
			trips.POST("/stop", commands, tripHandler.StopTrip)
			trips.POST("/cancel", commands, tripHandler.CancelTrip)
			trips.POST("/samples", limit(ratelimit.CategorySamples), sampleHandler.PushSamples)
			trips.PUT("/permission", commands, sampleHandler.SetPermission)

			reads := limit(ratelimit.CategoryDefault)
			trips.GET("/current", reads, tripHandler.GetCurrentTrip)
			trips.GET("/live/clients", reads, liveHandler.GetConnectedClients)
		}

		vehicles := api.Group("/vehicles")
		{
			writes := limit(ratelimit.CategoryWrites)
			vehicles.POST("", writes, vehicleHandler.CreateVehicle)
			vehicles.POST("/:id/odometer/rebuild", writes, vehicleHandler.RebuildOdometer)
			vehicles.PUT("/:id/reminders/:itemId", writes, maintenanceHandler.SaveReminder)
			vehicles.POST("/:id/maintenance/evaluate", writes, maintenanceHandler.EvaluateReminders)

			reads := limit(ratelimit.CategoryDefault)
			vehicles.GET("", reads, vehicleHandler.GetVehicles)
			vehicles.GET("/:id", reads, vehicleHandler.GetVehicle)
			vehicles.GET("/:id/trips", reads, vehicleHandler.GetTrips)
			vehicles.GET("/:id/distance", reads, vehicleHandler.GetMonthlyDistance)
			vehicles.GET("/:id/maintenance", reads, maintenanceHandler.GetMaintenanceStatus)
		}

		api.GET("/maintenance/items", maintenanceHandler.GetItems)
	}

	return &Services{
		Vehicles:    vehicleService,
		Trips:       tripService,
		Maintenance: maintenanceService,
		Reconciler:  reconciler,
	}
}

func rateLimitConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	limits := ratelimit.DefaultConfig()
	limits.Enabled = cfg.Enabled
	perMinute := func(category string, n int) {
		if n > 0 {
			limits.Limits[category] = ratelimit.RateLimit{Requests: n, Window: time.Minute}
		}
	}
	perMinute(ratelimit.CategoryTripCommands, cfg.TripCommandsPerMinute)
	perMinute(ratelimit.CategorySamples, cfg.SamplesPerMinute)
	perMinute(ratelimit.CategoryWrites, cfg.WritesPerMinute)
	perMinute(ratelimit.CategoryDefault, cfg.DefaultPerMinute)
	return limits
}
