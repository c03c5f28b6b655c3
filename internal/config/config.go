package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RateLimitBackend selects "sql" (default) or "redis".
	RateLimitBackend string

	// API throttling per caller, token bucket in redis. Zero rate disables it.
	APIThrottleRate  float64
	APIThrottleBurst int

	AdminPrincipals []string

	Karma     KarmaConfig
	Scheduler SchedulerConfig
}

// SchedulerConfig controls background maintenance jobs.
type SchedulerConfig struct {
	Enabled        bool
	Interval       time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	DecayStaleness time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "karma"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "karma"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "karma.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		RateLimitBackend:  strings.ToLower(strings.TrimSpace(getenv("RATE_LIMIT_BACKEND", "sql"))),
		APIThrottleRate:   getenvFloat("API_THROTTLE_RATE", 0),
		APIThrottleBurst:  int(getenvInt64("API_THROTTLE_BURST", 20)),
		AdminPrincipals:   parseList(getenv("KARMA_ADMIN_PRINCIPALS", "")),
		Karma:             loadKarmaFromEnv(),
		Scheduler: SchedulerConfig{
			Enabled:        getenvBool("SCHEDULER_ENABLED", true),
			Interval:       time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 300)) * time.Second,
			BatchSize:      int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
			JobTimeout:     time.Duration(getenvInt64("SCHEDULER_JOB_TIMEOUT_SECONDS", 60)) * time.Second,
			DecayStaleness: time.Duration(getenvInt64("SCHEDULER_DECAY_STALENESS_HOURS", 168)) * time.Hour,
		},
	}

	return cfg
}

// RedisEnabled reports whether a redis address is configured.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// IsAdmin reports whether principal is listed as an administrator.
func (c Config) IsAdmin(principal string) bool {
	principal = strings.TrimSpace(principal)
	for _, p := range c.AdminPrincipals {
		if p == principal {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
