// Package config loads the environment-driven configuration shared by the
// sidecar, validator, and event-worker binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AuthMode selects how the sidecar authenticates inbound clients before the
// enforcement pipeline runs.
type AuthMode string

const (
	AuthNone        AuthMode = "none"
	AuthAPIKey      AuthMode = "api_key"
	AuthBearerToken AuthMode = "bearer_token"
)

// Sidecar holds every configuration value the sidecar proxy (C5) needs.
type Sidecar struct {
	Env      string
	LogLevel string
	Addr     string

	UpstreamURL     string
	ValidatorAPIURL string
	ValidatorAPIKey string
	ProviderID      string
	RedisURL        string

	AuthMode   AuthMode
	AuthSecret string

	CacheTTL           time.Duration
	CacheMaxEntries    int
	RequestTimeout     time.Duration
	ValidatorTimeout   time.Duration
	UsageRecordTimeout time.Duration

	AddressHeader string
	ServiceHeader string
	CostHeader    string

	FailOpen bool

	ProviderWebhookURL    string
	ProviderWebhookSecret string

	GracefulTimeout time.Duration
}

// LoadSidecar reads sidecar configuration from the environment (and an
// optional .env file), applying the defaults from the environment table.
func LoadSidecar() (*Sidecar, error) {
	_ = godotenv.Load()

	cfg := &Sidecar{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Addr:     ":" + getEnv("PORT", "8080"),

		UpstreamURL:     getEnv("UPSTREAM_URL", ""),
		ValidatorAPIURL: getEnv("VALIDATOR_API_URL", ""),
		ValidatorAPIKey: getEnv("VALIDATOR_API_KEY", ""),
		ProviderID:      getEnv("PROVIDER_ID", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),

		AuthMode:   AuthMode(getEnv("AUTH_MODE", string(AuthNone))),
		AuthSecret: getEnv("AUTH_SECRET", ""),

		CacheTTL:           time.Duration(getEnvInt("CACHE_TTL_MS", 15_000)) * time.Millisecond,
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 10_000),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 5_000)) * time.Millisecond,
		ValidatorTimeout:   500 * time.Millisecond,
		UsageRecordTimeout: 3 * time.Second,

		AddressHeader: getEnv("ADDRESS_HEADER", "X-Infrapass-Address"),
		ServiceHeader: getEnv("SERVICE_HEADER", "X-Infrapass-Service-Id"),
		CostHeader:    getEnv("COST_HEADER", "X-Infrapass-Cost"),

		FailOpen: getEnvBool("FAIL_OPEN", false),

		ProviderWebhookURL:    getEnv("PROVIDER_WEBHOOK_URL", ""),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),

		GracefulTimeout: time.Duration(getEnvInt("GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,
	}

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("config: UPSTREAM_URL is required")
	}
	if cfg.ValidatorAPIURL == "" {
		return nil, fmt.Errorf("config: VALIDATOR_API_URL is required")
	}
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("config: PROVIDER_ID is required")
	}
	if cfg.AuthMode != AuthNone && cfg.AuthSecret == "" {
		return nil, fmt.Errorf("config: AUTH_SECRET is required when AUTH_MODE=%s", cfg.AuthMode)
	}

	return cfg, nil
}

// IsDevelopment reports whether Env selects development-mode logging.
func (c *Sidecar) IsDevelopment() bool {
	return c.Env == "development"
}

// Validator holds configuration for the validator API binary (C2).
type Validator struct {
	Env      string
	LogLevel string
	Addr     string

	DatabaseURL string
	BearerToken string

	GracefulTimeout time.Duration
}

// LoadValidator reads validator configuration from the environment.
func LoadValidator() (*Validator, error) {
	_ = godotenv.Load()

	cfg := &Validator{
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Addr:            ":" + getEnv("PORT", "8081"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		BearerToken:     getEnv("VALIDATOR_API_KEY", ""),
		GracefulTimeout: time.Duration(getEnvInt("GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("config: VALIDATOR_API_KEY is required")
	}

	return cfg, nil
}

func (c *Validator) IsDevelopment() bool {
	return c.Env == "development"
}

// EventWorker holds configuration for the event-ingestion binary (C3).
type EventWorker struct {
	Env      string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	LedgerSubscriptionURL string
	ReconnectBackoff      time.Duration
	ChannelCapacity       int

	HealthCheckInterval     time.Duration
	CheckpointStaleAfter    time.Duration
	ConsecutiveFailureAlert int

	PagerDutyRoutingKey string
	PagerDutyEnabled    bool
}

// LoadEventWorker reads event-worker configuration from the environment.
func LoadEventWorker() (*EventWorker, error) {
	_ = godotenv.Load()

	cfg := &EventWorker{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		LedgerSubscriptionURL: getEnv("LEDGER_SUBSCRIPTION_URL", ""),
		ReconnectBackoff:      time.Duration(getEnvInt("RECONNECT_BACKOFF_SEC", 5)) * time.Second,
		ChannelCapacity:       getEnvInt("EVENT_CHANNEL_CAPACITY", 256),

		HealthCheckInterval:     time.Duration(getEnvInt("HEALTH_CHECK_INTERVAL_SEC", 30)) * time.Second,
		CheckpointStaleAfter:    time.Duration(getEnvInt("CHECKPOINT_STALE_AFTER_SEC", 120)) * time.Second,
		ConsecutiveFailureAlert: getEnvInt("CONSECUTIVE_FAILURE_ALERT", 3),

		PagerDutyRoutingKey: getEnv("PAGERDUTY_ROUTING_KEY", ""),
		PagerDutyEnabled:    getEnvBool("PAGERDUTY_ENABLED", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.LedgerSubscriptionURL == "" {
		return nil, fmt.Errorf("config: LEDGER_SUBSCRIPTION_URL is required")
	}

	return cfg, nil
}

func (c *EventWorker) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
