package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"clipvault-go/pkg/logger"
)

type Config struct {
	HTTPPort string
	Env      string
	DB       DBConfig
	Auth     AuthConfig
	Sync     SyncConfig
	WS       WSConfig
}

type DBConfig struct {
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig points at the external account service that owns user
// authentication. SkipAuth short-circuits it with a mock user for local
// development.
type AuthConfig struct {
	URL        string
	Timeout    time.Duration
	SkipAuth   bool
	MockUserID string
}

type SyncConfig struct {
	MinBatchSize      int
	MaxBatchSize      int
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	RetentionWindow   time.Duration
	PruneInterval     time.Duration
	DefaultPolicy     string
}

type WSConfig struct {
	Enabled        bool
	AllowedOrigins []string
}

func Load(log logger.Logger) (Config, error) {
	if err := loadDotEnv(log); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	return Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		DB: DBConfig{
			DSN:             getEnv("DB_DSN", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "clipvault"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			TimeZone:        getEnv("DB_TIMEZONE", "UTC"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			URL:        getEnv("AUTH_URL", ""),
			Timeout:    getEnvDuration("AUTH_TIMEOUT", 5*time.Second),
			SkipAuth:   getEnvBool("AUTH_SKIP", false),
			MockUserID: getEnv("AUTH_MOCK_USER_ID", "00000000-0000-0000-0000-000000000001"),
		},
		Sync: SyncConfig{
			MinBatchSize:      getEnvInt("SYNC_MIN_BATCH_SIZE", 10),
			MaxBatchSize:      getEnvInt("SYNC_MAX_BATCH_SIZE", 200),
			InactivityTimeout: getEnvDuration("SYNC_INACTIVITY_TIMEOUT", 5*time.Minute),
			SweepInterval:     getEnvDuration("SYNC_SWEEP_INTERVAL", time.Minute),
			RetentionWindow:   getEnvDuration("SYNC_RETENTION_WINDOW", 30*24*time.Hour),
			PruneInterval:     getEnvDuration("SYNC_PRUNE_INTERVAL", time.Hour),
			DefaultPolicy:     getEnv("SYNC_DEFAULT_POLICY", "auto"),
		},
		WS: WSConfig{
			Enabled:        getEnvBool("WS_ENABLED", true),
			AllowedOrigins: []string{getEnv("WS_ALLOWED_ORIGIN", "http://localhost:5173")},
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.TimeZone
}
