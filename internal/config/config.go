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

	ShutdownTimeout time.Duration

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
	DBRunMigrations   bool

	Payments PaymentsEnv
	Redis    RedisConfig
	AMQP     AMQPConfig

	CORSAllowedOrigins []string
}

// PaymentsEnv carries the env-level payment settings. Credentials from env are
// the fallback under whatever the settings store holds.
type PaymentsEnv struct {
	DefaultProvider string
	SettingsSecret  string
	Credentials     map[string]ProviderCredentials
}

type ProviderCredentials struct {
	APIKey        string
	SecretKey     string
	BaseURL       string
	WebhookURL    string
	WebhookSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type AMQPConfig struct {
	URL      string
	Exchange string
}

func (a AMQPConfig) Enabled() bool { return strings.TrimSpace(a.URL) != "" }

// providerEnvNames lists the env prefixes read for provider credentials.
var providerEnvNames = []string{"zenopay", "paypal", "stripe", "flutterwave", "beem", "mock"}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "paygate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:   getenvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paygate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),
		Payments: PaymentsEnv{
			DefaultProvider: strings.ToLower(strings.TrimSpace(getenv("PAYMENT_DEFAULT_PROVIDER", ""))),
			SettingsSecret:  strings.TrimSpace(getenv("PAYMENT_SETTINGS_SECRET", "")),
			Credentials:     loadProviderCredentials(),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "paygate.payments"),
		},
		CORSAllowedOrigins: splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func loadProviderCredentials() map[string]ProviderCredentials {
	out := make(map[string]ProviderCredentials, len(providerEnvNames))
	for _, name := range providerEnvNames {
		prefix := strings.ToUpper(name) + "_"
		creds := ProviderCredentials{
			APIKey:        strings.TrimSpace(os.Getenv(prefix + "API_KEY")),
			SecretKey:     strings.TrimSpace(os.Getenv(prefix + "SECRET_KEY")),
			BaseURL:       strings.TrimSpace(os.Getenv(prefix + "BASE_URL")),
			WebhookURL:    strings.TrimSpace(os.Getenv(prefix + "WEBHOOK_URL")),
			WebhookSecret: strings.TrimSpace(os.Getenv(prefix + "WEBHOOK_SECRET")),
		}
		if creds == (ProviderCredentials{}) {
			continue
		}
		out[name] = creds
	}
	return out
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
