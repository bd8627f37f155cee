package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port    string
	Env     string
	LogMode string

	// Database
	DatabaseURL   string
	MigrationsDir string
	StoreTimeout  time.Duration

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// HTTP
	RateLimitPerMinute int

	// Scheduling engine
	GradeMaxAttempts int
	GradeRetryDelay  time.Duration
	SessionIdleTTL   time.Duration
	DefaultMaxItems  int
	ProgressCacheTTL time.Duration
	ProgressWorkers  int
	StreakTimezone   *time.Location

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Tracing
	OtelEnabled     bool
	OtelSampleRatio float64

	// Frontend
	FrontendURL string
}

func Load() *Config {
	return load(mustGetEnv)
}

// LoadOptional reads the same keys as Load but tolerates missing required
// ones. Callers check the fields they need.
func LoadOptional() *Config {
	return load(os.Getenv)
}

func load(required func(key string) string) *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogMode:            getEnvOrDefault("LOG_MODE", "development"),
		DatabaseURL:        required("DATABASE_URL"),
		MigrationsDir:      getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		StoreTimeout:       getEnvAsDurationOrDefault("STORE_TIMEOUT", 3*time.Second),
		RedisURL:           required("REDIS_URL"),
		JWTSecret:          required("JWT_SECRET"),
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 120),
		GradeMaxAttempts:   getEnvAsIntOrDefault("GRADE_MAX_ATTEMPTS", 5),
		GradeRetryDelay:    getEnvAsDurationOrDefault("GRADE_RETRY_DELAY", 20*time.Millisecond),
		SessionIdleTTL:     getEnvAsDurationOrDefault("SESSION_IDLE_TTL", 2*time.Hour),
		DefaultMaxItems:    getEnvAsIntOrDefault("DEFAULT_MAX_ITEMS", 50),
		ProgressCacheTTL:   getEnvAsDurationOrDefault("PROGRESS_CACHE_TTL", 10*time.Minute),
		ProgressWorkers:    getEnvAsIntOrDefault("PROGRESS_WORKERS", 4),
		StreakTimezone:     getEnvAsLocationOrDefault("STREAK_TIMEZONE", time.UTC),
		SMTPHost:           getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:           getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:           getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:           getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:           getEnvOrDefault("SMTP_FROM", "noreply@recall.app"),
		OtelEnabled:        getEnvAsBoolOrDefault("OTEL_ENABLED", false),
		OtelSampleRatio:    getEnvAsFloatOrDefault("OTEL_SAMPLER_RATIO", 0.1),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
}

// getEnvAsDurationOrDefault accepts Go duration strings ("250ms", "2h").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getEnvAsLocationOrDefault(key string, defaultVal *time.Location) *time.Location {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	loc, err := time.LoadLocation(val)
	if err != nil {
		return defaultVal
	}
	return loc
}
