package config

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_TOKEN", "svc")
	t.Setenv("MESSAGING_GATEWAY_URL", "http://gateway:18021")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"DATABASE_URL", "MESSAGE_SERVICE_FEE", "SEND_TIMEOUT", "SEND_MAX_RETRIES", "KAFKA_BROKERS", "PORT", "MESSAGING_GATEWAY_TOKEN"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Fee.Equal(decimal.RequireFromString("0.20")) {
		t.Fatalf("expected default fee 0.20, got %s", cfg.Fee)
	}
	if cfg.SendTimeout != 10*time.Second || cfg.SendMaxRetries != 2 {
		t.Fatalf("unexpected send policy %v/%d", cfg.SendTimeout, cfg.SendMaxRetries)
	}
	if cfg.Port != "18020" {
		t.Fatalf("expected port 18020, got %s", cfg.Port)
	}
	if !cfg.UsesMemory() {
		t.Fatal("expected memory storage without DATABASE_URL")
	}
	if cfg.GatewayToken != "svc" {
		t.Fatalf("gateway token should fall back to the service token, got %q", cfg.GatewayToken)
	}
	if cfg.KafkaBrokers != nil {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "postgres://bosun@db/bosun")
	t.Setenv("CREDENTIALS_SECRET", "s3cret")
	t.Setenv("MESSAGE_SERVICE_FEE", "0.05")
	t.Setenv("SEND_RETRY_DELAY", "1s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Fee.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected fee 0.05, got %s", cfg.Fee)
	}
	if cfg.SendRetryDelay != time.Second {
		t.Fatalf("expected 1s retry delay, got %v", cfg.SendRetryDelay)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.UsesMemory() {
		t.Fatal("expected postgres storage")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want error
	}{
		{"no service token", map[string]string{"SERVICE_TOKEN": ""}, ErrMissingServiceToken},
		{"no gateway", map[string]string{"MESSAGING_GATEWAY_URL": ""}, ErrMissingGateway},
		{"database without secret", map[string]string{"DATABASE_URL": "postgres://x", "CREDENTIALS_SECRET": ""}, ErrMissingSecret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	t.Run("zero fee", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DATABASE_URL", "")
		t.Setenv("MESSAGE_SERVICE_FEE", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for zero fee")
		}
	})
}
