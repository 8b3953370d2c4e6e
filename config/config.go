package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	// HTTP surface
	Port        string
	BaseURL     string // public callback base URL registered with Eloqua and the gateway
	SessionTTL  time.Duration
	RateLimit   int           // requests per window per remote IP
	RateWindow  time.Duration

	// Eloqua OAuth
	EloquaClientID     string
	EloquaClientSecret string
	EloquaAuthorizeURL string
	EloquaTokenURL     string
	EloquaLoginBase    string // login host used for /id discovery

	// SMS Gateway
	GatewayBaseURL string

	// Store
	DatabaseURL string

	// Send worker
	WorkerPollInterval time.Duration
	WorkerBatchSize    int
	WorkerConcurrency  int
	WorkerSendPacing   time.Duration
	JobMaxRetries      int
	JobRetryCooloff    time.Duration
	JobRetentionDays   int

	// Decision sweeper
	SweepInterval time.Duration
	SweepBatch    int

	// Feeder flush
	FeederFlushInterval time.Duration
	FeederFlushBatch    int

	// Graceful shutdown
	DrainTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; the environment takes precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		BaseURL:    os.Getenv("APP_BASE_URL"),
		SessionTTL: getDuration("SESSION_TTL", 8*time.Hour),
		RateLimit:  getInt("RATE_LIMIT_REQUESTS", 100),
		RateWindow: getDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		EloquaClientID:     os.Getenv("ELOQUA_CLIENT_ID"),
		EloquaClientSecret: os.Getenv("ELOQUA_CLIENT_SECRET"),
		EloquaAuthorizeURL: getEnv("ELOQUA_AUTHORIZE_URL", "https://login.eloqua.com/auth/oauth2/authorize"),
		EloquaTokenURL:     getEnv("ELOQUA_TOKEN_URL", "https://login.eloqua.com/auth/oauth2/token"),
		EloquaLoginBase:    getEnv("ELOQUA_LOGIN_BASE", "https://login.eloqua.com"),

		GatewayBaseURL: getEnv("SMS_GATEWAY_BASE_URL", "https://api.transmitsms.com"),

		DatabaseURL: getEnv("DATABASE_URL", "bridge.db"),

		WorkerPollInterval: getDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerBatchSize:    getInt("WORKER_BATCH_SIZE", 10),
		WorkerConcurrency:  getInt("WORKER_CONCURRENCY", 5),
		WorkerSendPacing:   getDuration("WORKER_SEND_PACING", 100*time.Millisecond),
		JobMaxRetries:      getInt("JOB_MAX_RETRIES", 3),
		JobRetryCooloff:    getDuration("JOB_RETRY_COOLOFF", 5*time.Minute),
		JobRetentionDays:   getInt("JOB_RETENTION_DAYS", 30),

		SweepInterval: getDuration("SWEEP_INTERVAL", 2*time.Minute),
		SweepBatch:    getInt("SWEEP_BATCH", 30),

		FeederFlushInterval: getDuration("FEEDER_FLUSH_INTERVAL", 5*time.Minute),
		FeederFlushBatch:    getInt("FEEDER_FLUSH_BATCH", 100),

		DrainTimeout: getDuration("DRAIN_TIMEOUT", 10*time.Second),

		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFormat: os.Getenv("LOG_FORMAT"),
	}

	if cfg.EloquaClientID == "" || cfg.EloquaClientSecret == "" {
		return nil, fmt.Errorf("ELOQUA_CLIENT_ID and ELOQUA_CLIENT_SECRET are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("APP_BASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	log.Debug().Str("key", key).Str("value", fallback).Msg("Env var not set, using default")
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer env var, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration env var, using default")
		return fallback
	}
	return d
}
