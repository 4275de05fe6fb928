package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                    string
	StoreDriver             string
	MongoURI                string
	DatabaseURL             string
	JWTSecret               string
	JWTExpiry               string
	AllowedOrigins          []string
	FirebaseCredentialsFile string
	Redis                   RedisConfig
	Tracking                TrackingConfig
	Reminder                ReminderConfig
	RateLimit               RateLimitConfig
}

type RedisConfig struct {
	Enabled      bool
	URL          string
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	RetryDelay   time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// TrackingConfig holds the distance filter tunables and the persistence retry policy.
type TrackingConfig struct {
	MinMovementMeters float64
	EarthRadiusKm     float64
	MaxAccuracyMeters float64 // 0 disables the accuracy filter
	MaxSpeedMPS       float64 // 0 disables the jump filter
	PeriodLocation    *time.Location
	RetryAttempts     int
	RetryBackoff      time.Duration

	// LocationGranted is the permission assumed for a device that has not
	// reported one yet.
	LocationGranted bool
}

// RateLimitConfig holds per-user request limits per minute.
type RateLimitConfig struct {
	Enabled               bool
	TripCommandsPerMinute int
	SamplesPerMinute      int
	WritesPerMinute       int
	DefaultPerMinute      int
}

type ReminderConfig struct {
	PastDueDelay time.Duration
	PollInterval time.Duration
	KeyPrefix    string
	BatchSize    int
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		MinMovementMeters: 1,
		EarthRadiusKm:     6371,
		MaxAccuracyMeters: 0,
		MaxSpeedMPS:       83.3,
		PeriodLocation:    time.UTC,
		RetryAttempts:     2,
		RetryBackoff:      200 * time.Millisecond,
		LocationGranted:   true,
	}
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		PastDueDelay: 10 * time.Second,
		PollInterval: 15 * time.Second,
		KeyPrefix:    "reminders:",
		BatchSize:    100,
	}
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:               true,
		TripCommandsPerMinute: 30,
		SamplesPerMinute:      300,
		WritesPerMinute:       30,
		DefaultPerMinute:      120,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      true,
		Host:         "localhost",
		Port:         "6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		RetryDelay:   500 * time.Millisecond,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		StoreDriver:             strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:                os.Getenv("MONGO_URI"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		JWTExpiry:               os.Getenv("JWT_EXPIRY"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		Redis:                   loadRedisConfig(),
		Tracking:                loadTrackingConfig(),
		Reminder:                loadReminderConfig(),
		RateLimit:               loadRateLimitConfig(),
	}

	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURI == "" {
			log.Fatal("MONGO_URI environment variable is not set")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL environment variable is not set")
		}
	case StoreMemory:
	default:
		log.Fatalf("Unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	allowedOrigins := getEnv("ALLOWED_ORIGINS", "http://localhost:5173")
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg
}

func loadRedisConfig() RedisConfig {
	cfg := DefaultRedisConfig()
	cfg.Enabled = getEnvBool("REDIS_ENABLED", cfg.Enabled)
	cfg.URL = os.Getenv("REDIS_URL")
	cfg.Host = getEnv("REDIS_HOST", cfg.Host)
	cfg.Port = getEnv("REDIS_PORT", cfg.Port)
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	cfg.DB = getEnvInt("REDIS_DB", cfg.DB)
	cfg.PoolSize = getEnvInt("REDIS_POOL_SIZE", cfg.PoolSize)
	cfg.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", cfg.MinIdleConns)
	cfg.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", cfg.MaxRetries)
	return cfg
}

func loadTrackingConfig() TrackingConfig {
	cfg := DefaultTrackingConfig()
	cfg.MinMovementMeters = getEnvFloat("TRACKING_MIN_MOVEMENT_METERS", cfg.MinMovementMeters)
	cfg.EarthRadiusKm = getEnvFloat("TRACKING_EARTH_RADIUS_KM", cfg.EarthRadiusKm)
	cfg.MaxAccuracyMeters = getEnvFloat("TRACKING_MAX_ACCURACY_METERS", cfg.MaxAccuracyMeters)
	cfg.MaxSpeedMPS = getEnvFloat("TRACKING_MAX_SPEED_MPS", cfg.MaxSpeedMPS)
	cfg.RetryAttempts = getEnvInt("RECONCILE_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryBackoff = getEnvDuration("RECONCILE_RETRY_BACKOFF", cfg.RetryBackoff)
	cfg.LocationGranted = getEnvBool("TRACKING_ASSUME_LOCATION_GRANTED", cfg.LocationGranted)

	if name := os.Getenv("TRACKING_PERIOD_TIMEZONE"); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			log.Printf("Invalid TRACKING_PERIOD_TIMEZONE %q, using UTC: %v", name, err)
		} else {
			cfg.PeriodLocation = loc
		}
	}
	return cfg
}

func loadReminderConfig() ReminderConfig {
	cfg := DefaultReminderConfig()
	cfg.PastDueDelay = getEnvDuration("REMINDER_PAST_DUE_DELAY", cfg.PastDueDelay)
	cfg.PollInterval = getEnvDuration("REMINDER_POLL_INTERVAL", cfg.PollInterval)
	cfg.KeyPrefix = getEnv("REMINDER_KEY_PREFIX", cfg.KeyPrefix)
	cfg.BatchSize = getEnvInt("REMINDER_BATCH_SIZE", cfg.BatchSize)
	return cfg
}

func loadRateLimitConfig() RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	cfg.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.TripCommandsPerMinute = getEnvInt("RATE_LIMIT_TRIP_COMMANDS", cfg.TripCommandsPerMinute)
	cfg.SamplesPerMinute = getEnvInt("RATE_LIMIT_SAMPLES", cfg.SamplesPerMinute)
	cfg.WritesPerMinute = getEnvInt("RATE_LIMIT_WRITES", cfg.WritesPerMinute)
	cfg.DefaultPerMinute = getEnvInt("RATE_LIMIT_DEFAULT", cfg.DefaultPerMinute)
	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			return n
		}
		log.Printf("Invalid %s=%q, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		log.Printf("Invalid %s=%q, using %v", key, val, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			return f
		}
		log.Printf("Invalid %s=%q, using %v", key, val, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			return d
		}
		log.Printf("Invalid %s=%q, using %v", key, val, fallback)
	}
	return fallback
}
