package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a ledger transaction.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Well-known transaction reasons.
const (
	ReasonServiceFee = "service fee"
	ReasonRefund     = "refund: send failed"
	ReasonRecharge   = "recharge"
)

// Wallet is a tenant's prepaid balance. Balance only moves through a Transaction.
type Wallet struct {
	TenantID            string          `json:"tenant_id"`
	Balance             decimal.Decimal `json:"balance"`
	Currency            string          `json:"currency"`
	Locked              bool            `json:"locked"`
	LowBalanceThreshold decimal.Decimal `json:"low_balance_threshold"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsLowBalance reports whether the balance sits below the informational threshold.
func (w Wallet) IsLowBalance() bool {
	return w.Balance.LessThan(w.LowBalanceThreshold)
}

// Transaction is an immutable, balance-annotated record of one balance change.
type Transaction struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	TenantID      string          `json:"tenant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          Kind            `json:"kind"`
	Reason        string          `json:"reason"`
	Reference     string          `json:"reference,omitempty"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`

	// Replayed is set when a credit matched an earlier one by reference and
	// nothing new was written.
	Replayed bool `json:"replayed,omitempty"`
}

// Delta is the signed effect of the transaction on the balance.
func (t Transaction) Delta() decimal.Decimal {
	if t.Kind == KindDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Page is one newest-first slice of a tenant's history.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"next_cursor,omitempty"`
}

// Store holds wallets and their append-only transaction logs.
//
// Debit and Credit for one tenant are serialized: a debit never observes a
// balance another in-flight mutation is about to change. Different tenants
// never contend.
type Store interface {
	CreateWallet(ctx context.Context, tenantID, currency string, lowBalanceThreshold decimal.Decimal) (*Wallet, error)
	Wallet(ctx context.Context, tenantID string) (*Wallet, error)
	SetLocked(ctx context.Context, tenantID string, locked bool) (*Wallet, error)

	Debit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error)
	Credit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error)
	Balance(ctx context.Context, tenantID string) (decimal.Decimal, error)
	History(ctx context.Context, tenantID string, limit int, before string) (*Page, error)
}

// DefaultLowBalanceThreshold is applied when a wallet is created without one.
var DefaultLowBalanceThreshold = decimal.NewFromInt(5)
