// Package config assembles bosun's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"frameworks/api_messaging/internal/inbound"
	"frameworks/pkg/billing"
	"frameworks/pkg/config"
)

// Config is the full service configuration.
type Config struct {
	Port string

	// DatabaseURL selects PostgreSQL storage. Empty keeps everything in
	// process memory, for local runs only.
	DatabaseURL       string
	ServiceToken      string
	CredentialsSecret string

	Fee             decimal.Decimal
	SendTimeout     time.Duration
	SendMaxRetries  int
	SendRetryDelay  time.Duration
	FinalizeTimeout time.Duration

	GatewayURL   string
	GatewayToken string

	WebhookSecret      string
	WebhookVerifyToken string

	RedisURL     string
	DedupeWindow time.Duration

	KafkaBrokers []string
	EventsTopic  string
}

// DefaultFee is the per-message service fee.
var DefaultFee = decimal.RequireFromString("0.20")

var (
	ErrMissingServiceToken = errors.New("SERVICE_TOKEN is required")
	ErrMissingSecret       = errors.New("CREDENTIALS_SECRET is required with DATABASE_URL")
	ErrMissingGateway      = errors.New("MESSAGING_GATEWAY_URL is required")
)

// Load reads the environment. It does not load .env files; call
// config.LoadEnv first for that.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               config.GetEnv("PORT", "18020"),
		DatabaseURL:        config.GetEnv("DATABASE_URL", ""),
		ServiceToken:       config.GetEnv("SERVICE_TOKEN", ""),
		CredentialsSecret:  config.GetEnv("CREDENTIALS_SECRET", ""),
		Fee:                billing.GetEnvAmount("MESSAGE_SERVICE_FEE", DefaultFee),
		SendTimeout:        config.GetEnvDuration("SEND_TIMEOUT", 10*time.Second),
		SendMaxRetries:     config.GetEnvInt("SEND_MAX_RETRIES", 2),
		SendRetryDelay:     config.GetEnvDuration("SEND_RETRY_DELAY", 200*time.Millisecond),
		FinalizeTimeout:    config.GetEnvDuration("FINALIZE_TIMEOUT", 10*time.Second),
		GatewayURL:         config.GetEnv("MESSAGING_GATEWAY_URL", ""),
		WebhookSecret:      config.GetEnv("WEBHOOK_APP_SECRET", ""),
		WebhookVerifyToken: config.GetEnv("WEBHOOK_VERIFY_TOKEN", ""),
		RedisURL:           config.GetEnv("REDIS_URL", ""),
		DedupeWindow:       config.GetEnvDuration("WEBHOOK_DEDUPE_WINDOW", inbound.DefaultDedupeWindow),
		KafkaBrokers:       config.GetEnvList("KAFKA_BROKERS"),
		EventsTopic:        config.GetEnv("BILLING_EVENTS_TOPIC", "bosun.billing_events"),
	}
	cfg.GatewayToken = config.GetEnv("MESSAGING_GATEWAY_TOKEN", cfg.ServiceToken)

	if cfg.ServiceToken == "" {
		return nil, ErrMissingServiceToken
	}
	if cfg.DatabaseURL != "" && cfg.CredentialsSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.GatewayURL == "" {
		return nil, ErrMissingGateway
	}
	if !cfg.Fee.IsPositive() {
		return nil, fmt.Errorf("MESSAGE_SERVICE_FEE must be positive, got %s", cfg.Fee)
	}
	if cfg.SendMaxRetries < 0 {
		return nil, fmt.Errorf("SEND_MAX_RETRIES must not be negative, got %d", cfg.SendMaxRetries)
	}
	return cfg, nil
}

// UsesMemory reports whether no database is configured.
func (c *Config) UsesMemory() bool {
	return c.DatabaseURL == ""
}
