package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

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
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway GatewayConfig

	CronSecret string
	Scheduler  SchedulerConfig
}

type GatewayConfig struct {
	Provider string

	PayPlusBaseURL   string
	PayPlusAPIKey    string
	PayPlusSecretKey string
	PayPlusTerminal  string

	StripeSecretKey string
}

type SchedulerConfig struct {
	Enabled        bool
	EnabledJobs    []string
	RenewalSpec    string
	ExpirationSpec string
	JobTimeout     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "modulebilling"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPPort:          getenv("HTTP_PORT", "8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		Gateway: GatewayConfig{
			Provider:         strings.ToLower(strings.TrimSpace(getenv("PAYMENT_GATEWAY", "sandbox"))),
			PayPlusBaseURL:   strings.TrimSpace(getenv("PAYPLUS_BASE_URL", "https://restapi.payplus.co.il/api/v1.0")),
			PayPlusAPIKey:    strings.TrimSpace(getenv("PAYPLUS_API_KEY", "")),
			PayPlusSecretKey: strings.TrimSpace(getenv("PAYPLUS_SECRET_KEY", "")),
			PayPlusTerminal:  strings.TrimSpace(getenv("PAYPLUS_TERMINAL_UID", "")),
			StripeSecretKey:  strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		},
		CronSecret: strings.TrimSpace(getenv("CRON_SECRET", "")),
		Scheduler: SchedulerConfig{
			Enabled:        getenvBool("SCHEDULER_ENABLED", true),
			EnabledJobs:    getenvList("SCHEDULER_ENABLED_JOBS"),
			RenewalSpec:    getenv("SCHEDULER_RENEWAL_SPEC", "0 3 * * *"),
			ExpirationSpec: getenv("SCHEDULER_EXPIRATION_SPEC", "30 3 * * *"),
			JobTimeout:     getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Minute),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
