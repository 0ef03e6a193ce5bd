package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"frameworks/pkg/config"
)

const (
	defaultCurrencyEnv      = "BILLING_CURRENCY"
	defaultCurrencyFallback = "EUR"

	// AmountScale is the number of fractional digits kept for ledger amounts.
	AmountScale = 4
)

// DefaultCurrency returns the billing ledger currency used when no currency is specified.
func DefaultCurrency() string {
	return strings.ToUpper(config.GetEnv(defaultCurrencyEnv, defaultCurrencyFallback))
}

// NormalizeCurrency upper-cases a currency code and falls back to the default.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency()
	}
	return code
}

// ParseAmount parses a decimal amount and rejects values with more precision
// than the ledger stores.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !d.Equal(d.Round(AmountScale)) {
		return decimal.Zero, fmt.Errorf("amount %q exceeds %d decimal places", raw, AmountScale)
	}
	return d, nil
}

// GetEnvAmount reads a decimal amount from the environment with a default.
func GetEnvAmount(key string, defaultValue decimal.Decimal) decimal.Decimal {
	raw := config.GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := ParseAmount(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
