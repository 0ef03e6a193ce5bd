package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"frameworks/pkg/billing"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletLocked        = errors.New("wallet is locked")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInvalidAmount       = errors.New("amount must be positive with at most 4 decimal places")
	ErrInvalidTenant       = errors.New("tenant id is required")
	ErrDuplicateReference  = errors.New("reference already recorded")
	ErrAuditMismatch       = errors.New("ledger history does not match stored balance")
)

// IsUnfunded reports whether a debit was refused for lack of usable funds.
// A locked wallet is surfaced to callers exactly like an empty one.
func IsUnfunded(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrWalletLocked)
}

func validateMutation(tenantID string, amount decimal.Decimal) error {
	if tenantID == "" {
		return ErrInvalidTenant
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(billing.AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// replay returns the stored credit for a repeated reference. A replay with a
// different amount is a conflicting reuse of the reference.
func replay(existing Transaction, amount decimal.Decimal) (*Transaction, error) {
	if !existing.Amount.Equal(amount) {
		return nil, ErrDuplicateReference
	}
	existing.Replayed = true
	return &existing, nil
}
