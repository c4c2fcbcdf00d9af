package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	LogLevel      string
	JWTSecret     string
	DataFile      string
	RemoteBackend string // memory, postgres or redis
	DBConn        string
	RedisAddr     string
	RedisPassword string
	SyncInterval  time.Duration
	SyncTimeout   time.Duration
	ActivityMax   int
	CardPrefix    string
	ValidityYears int
	MonthlyRate   string // default monthly rate percent for contracts without one
	CBRURL        string
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
}

// NewConfig loads configuration from environment variables, reading an
// optional .env file first.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	syncTimeout, err := time.ParseDuration(getEnv("SYNC_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_TIMEOUT: %w", err)
	}
	activityMax, err := strconv.Atoi(getEnv("ACTIVITY_MAX", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid ACTIVITY_MAX: %w", err)
	}
	validityYears, err := strconv.Atoi(getEnv("VALIDITY_YEARS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid VALIDITY_YEARS: %w", err)
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		DataFile:      getEnv("DATA_FILE", "cards.json"),
		RemoteBackend: getEnv("REMOTE_BACKEND", "memory"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=cards password=cards dbname=cards sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SyncInterval:  syncInterval,
		SyncTimeout:   syncTimeout,
		ActivityMax:   activityMax,
		CardPrefix:    getEnv("CARD_PREFIX", "400000"),
		ValidityYears: validityYears,
		MonthlyRate:   getEnv("MONTHLY_RATE", "2"),
		CBRURL:        getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "cards@localhost"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.CardPrefix) != 6 {
		return nil, fmt.Errorf("CARD_PREFIX must be 6 digits, got %q", cfg.CardPrefix)
	}
	if cfg.ValidityYears <= 0 {
		return nil, fmt.Errorf("VALIDITY_YEARS must be positive")
	}
	switch cfg.RemoteBackend {
	case "memory", "postgres", "redis":
	default:
		return nil, fmt.Errorf("unknown REMOTE_BACKEND %q", cfg.RemoteBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
