package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	LogLevel  string
	LogFormat string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Scheduler SchedulerConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig

	SeedDemo bool
}

// SchedulerConfig controls the enforcement worker cadence.
type SchedulerConfig struct {
	TickInterval     time.Duration
	CollectInterval  time.Duration
	EvaluateInterval time.Duration
	PurgeInterval    time.Duration
	RolloverAt       string // "HH:MM" local time
	ReseedAt         string
	RetentionDays    int
	JobTimeout       time.Duration
	ErrorBackoff     time.Duration
	Timezone         string
	EnabledJobs      []string
}

// GatewayConfig bounds the router connection pool.
type GatewayConfig struct {
	MaxConnsPerTenant int
	IdleTimeout       time.Duration
	DialTimeout       time.Duration
	ReapInterval      time.Duration
}

// RateLimitConfig guards the usage ingestion endpoint. Disabled by default;
// enabling requires a reachable redis.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IngestRate    float64
	IngestBurst   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "portalmeter"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "portalmeter"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Scheduler: SchedulerConfig{
			TickInterval:     getenvDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			CollectInterval:  getenvDuration("SCHEDULER_COLLECT_INTERVAL", 5*time.Minute),
			EvaluateInterval: getenvDuration("SCHEDULER_EVALUATE_INTERVAL", 5*time.Minute),
			PurgeInterval:    getenvDuration("SCHEDULER_PURGE_INTERVAL", 6*time.Hour),
			RolloverAt:       getenv("SCHEDULER_ROLLOVER_AT", "00:00"),
			ReseedAt:         getenv("SCHEDULER_RESEED_AT", "00:05"),
			RetentionDays:    getenvInt("USAGE_RETENTION_DAYS", 90),
			JobTimeout:       getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
			ErrorBackoff:     getenvDuration("SCHEDULER_ERROR_BACKOFF", time.Minute),
			Timezone:         getenv("SCHEDULER_TIMEZONE", "UTC"),
			EnabledJobs:      splitList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
		Gateway: GatewayConfig{
			MaxConnsPerTenant: getenvInt("GATEWAY_MAX_CONNS_PER_TENANT", 5),
			IdleTimeout:       getenvDuration("GATEWAY_IDLE_TIMEOUT", 5*time.Minute),
			DialTimeout:       getenvDuration("GATEWAY_DIAL_TIMEOUT", 10*time.Second),
			ReapInterval:      getenvDuration("GATEWAY_REAP_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATELIMIT_ENABLED", false),
			RedisAddr:     getenv("RATELIMIT_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("RATELIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATELIMIT_REDIS_DB", 0),
			IngestRate:    getenvFloat("RATELIMIT_INGEST_RATE", 50),
			IngestBurst:   getenvInt("RATELIMIT_INGEST_BURST", 100),
		},
		SeedDemo: getenvBool("SEED_DEMO_DATA", false),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
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
