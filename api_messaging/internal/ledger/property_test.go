package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// TestLedgerNeverOverdraws drives random credit/debit sequences through the
// memory store. Property: the balance never goes negative and always equals
// the fold of the recorded history.
func TestLedgerNeverOverdraws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("balance stays non-negative and matches replay", prop.ForAll(
		func(ops []int) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			if _, err := s.CreateWallet(ctx, "t", "EUR", decimal.Zero); err != nil {
				return false
			}

			for _, op := range ops {
				// Positive values credit, negative values debit, in cents.
				amount := decimal.New(int64(op), -2).Abs()
				if amount.IsZero() {
					continue
				}
				var err error
				if op > 0 {
					_, err = s.Credit(ctx, "t", amount, ReasonRecharge, "")
				} else {
					_, err = s.Debit(ctx, "t", amount, ReasonServiceFee, "")
				}
				if err != nil && !errors.Is(err, ErrInsufficientBalance) {
					return false
				}
				bal, err := s.Balance(ctx, "t")
				if err != nil || bal.IsNegative() {
					return false
				}
			}

			report, err := Audit(ctx, s, "t")
			return err == nil && report.Consistent
		},
		gen.SliceOf(gen.IntRange(-500, 500)),
	))

	properties.TestingRun(t)
}

// TestDebitRefusalIsExact verifies a debit succeeds if and only if the
// balance covers it.
func TestDebitRefusalIsExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("debit succeeds iff balance >= amount", prop.ForAll(
		func(balanceCents, feeCents int) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			if _, err := s.CreateWallet(ctx, "t", "EUR", decimal.Zero); err != nil {
				return false
			}
			balance := decimal.New(int64(balanceCents), -2)
			if balance.IsPositive() {
				if _, err := s.Credit(ctx, "t", balance, ReasonRecharge, ""); err != nil {
					return false
				}
			}
			fee := decimal.New(int64(feeCents), -2)

			_, err := s.Debit(ctx, "t", fee, ReasonServiceFee, "")
			after, _ := s.Balance(ctx, "t")
			if balance.GreaterThanOrEqual(fee) {
				return err == nil && after.Equal(balance.Sub(fee))
			}
			return errors.Is(err, ErrInsufficientBalance) && after.Equal(balance)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
