package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/pkg/billing"
	"frameworks/pkg/pagination"
)

// refKey identifies a referenced mutation. The reason is part of the key so a
// refund and a recharge carrying the same reference stay distinct.
type refKey struct {
	kind      Kind
	reason    string
	reference string
}

// tenantLedger is one tenant's wallet plus its log. mu is the tenant's
// mutual-exclusion domain for every balance mutation.
type tenantLedger struct {
	mu     sync.Mutex
	wallet Wallet
	txs    []Transaction // oldest first
	refs   map[refKey]int
}

// MemoryStore is an in-process Store. Each tenant has its own lock, so
// tenants never contend with each other.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantLedger
	seq     atomic.Int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*tenantLedger),
		now:     time.Now,
	}
}

func (s *MemoryStore) lookup(tenantID string) (*tenantLedger, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	s.mu.RLock()
	tl, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrWalletNotFound
	}
	return tl, nil
}

func (s *MemoryStore) CreateWallet(ctx context.Context, tenantID, currency string, lowBalanceThreshold decimal.Decimal) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	if lowBalanceThreshold.IsZero() {
		lowBalanceThreshold = DefaultLowBalanceThreshold
	}

	s.mu.Lock()
	tl, ok := s.tenants[tenantID]
	if !ok {
		now := s.now()
		tl = &tenantLedger{
			wallet: Wallet{
				TenantID:            tenantID,
				Balance:             decimal.Zero,
				Currency:            billing.NormalizeCurrency(currency),
				LowBalanceThreshold: lowBalanceThreshold,
				CreatedAt:           now,
				UpdatedAt:           now,
			},
			refs: make(map[refKey]int),
		}
		s.tenants[tenantID] = tl
	}
	s.mu.Unlock()

	tl.mu.Lock()
	defer tl.mu.Unlock()
	w := tl.wallet
	return &w, nil
}

func (s *MemoryStore) Wallet(ctx context.Context, tenantID string) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tl, err := s.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	w := tl.wallet
	return &w, nil
}

func (s *MemoryStore) SetLocked(ctx context.Context, tenantID string, locked bool) (*Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tl, err := s.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.wallet.Locked = locked
	tl.wallet.UpdatedAt = s.now()
	w := tl.wallet
	return &w, nil
}

func (s *MemoryStore) Debit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error) {
	if err := validateMutation(tenantID, amount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tl, err := s.lookup(tenantID)
	if err != nil {
		return nil, err
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if reference != "" {
		if _, dup := tl.refs[refKey{KindDebit, reason, reference}]; dup {
			return nil, ErrDuplicateReference
		}
	}
	if tl.wallet.Locked {
		return nil, ErrWalletLocked
	}
	if tl.wallet.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}
	return tl.append(s, KindDebit, amount, reason, reference), nil
}

func (s *MemoryStore) Credit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error) {
	if err := validateMutation(tenantID, amount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tl, err := s.lookup(tenantID)
	if err != nil {
		return nil, err
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if reference != "" {
		if idx, dup := tl.refs[refKey{KindCredit, reason, reference}]; dup {
			return replay(tl.txs[idx], amount)
		}
	}
	return tl.append(s, KindCredit, amount, reason, reference), nil
}

// append must be called with tl.mu held.
func (tl *tenantLedger) append(s *MemoryStore, kind Kind, amount decimal.Decimal, reason, reference string) *Transaction {
	before := tl.wallet.Balance
	tx := Transaction{
		ID:            uuid.New().String(),
		Seq:           s.seq.Add(1),
		TenantID:      tl.wallet.TenantID,
		Amount:        amount,
		Kind:          kind,
		Reason:        reason,
		Reference:     reference,
		BalanceBefore: before,
		CreatedAt:     s.now(),
	}
	tx.BalanceAfter = before.Add(tx.Delta())

	tl.txs = append(tl.txs, tx)
	if reference != "" {
		tl.refs[refKey{kind, reason, reference}] = len(tl.txs) - 1
	}
	tl.wallet.Balance = tx.BalanceAfter
	tl.wallet.UpdatedAt = tx.CreatedAt
	return &tx
}

func (s *MemoryStore) Balance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	w, err := s.Wallet(ctx, tenantID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *MemoryStore) History(ctx context.Context, tenantID string, limit int, before string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cursor, err := pagination.DecodeCursor(before)
	if err != nil {
		return nil, err
	}
	limit = pagination.ClampLimit(limit)

	tl, err := s.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	page := &Page{Transactions: make([]Transaction, 0, limit)}
	upper := cursor.Before()
	for i := len(tl.txs) - 1; i >= 0; i-- {
		tx := tl.txs[i]
		if upper > 0 && tx.Seq >= upper {
			continue
		}
		if len(page.Transactions) == limit {
			last := page.Transactions[limit-1]
			page.NextCursor = pagination.EncodeCursor(last.Seq, last.ID)
			break
		}
		page.Transactions = append(page.Transactions, tx)
	}
	return page, nil
}
