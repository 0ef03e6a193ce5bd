package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/pkg/billing"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
	"frameworks/pkg/pagination"
)

// PostgresStore keeps wallets in bosun.wallets and the log in
// bosun.ledger_transactions. Every mutation locks the tenant's wallet row
// with SELECT ... FOR UPDATE, which serializes debits and credits per tenant
// while leaving other tenants' rows untouched.
type PostgresStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewPostgresStore creates a ledger backed by PostgreSQL.
func NewPostgresStore(db *sql.DB, logger logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const walletColumns = `tenant_id, balance, currency, locked, low_balance_threshold, created_at, updated_at`

const transactionColumns = `seq, id, tenant_id, amount, kind, reason, COALESCE(reference, ''), balance_before, balance_after, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.TenantID, &w.Balance, &w.Currency, &w.Locked, &w.LowBalanceThreshold, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var kind string
	err := row.Scan(&tx.Seq, &tx.ID, &tx.TenantID, &tx.Amount, &kind, &tx.Reason, &tx.Reference, &tx.BalanceBefore, &tx.BalanceAfter, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Kind = Kind(kind)
	return &tx, nil
}

func nullableReference(ref string) sql.NullString {
	return sql.NullString{String: ref, Valid: ref != ""}
}

func (s *PostgresStore) CreateWallet(ctx context.Context, tenantID, currency string, lowBalanceThreshold decimal.Decimal) (*Wallet, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	if lowBalanceThreshold.IsZero() {
		lowBalanceThreshold = DefaultLowBalanceThreshold
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bosun.wallets (tenant_id, balance, currency, locked, low_balance_threshold, created_at, updated_at)
		VALUES ($1, 0, $2, FALSE, $3, NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID, billing.NormalizeCurrency(currency), lowBalanceThreshold)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to create wallet")
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	// Could be a pre-existing wallet if ON CONFLICT hit
	return s.Wallet(ctx, tenantID)
}

func (s *PostgresStore) Wallet(ctx context.Context, tenantID string) (*Wallet, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM bosun.wallets WHERE tenant_id = $1`, tenantID)
	w, err := scanWallet(row)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return w, err
}

func (s *PostgresStore) SetLocked(ctx context.Context, tenantID string, locked bool) (*Wallet, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE bosun.wallets
		SET locked = $1, updated_at = NOW()
		WHERE tenant_id = $2
		RETURNING `+walletColumns, locked, tenantID)
	w, err := scanWallet(row)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("set wallet lock: %w", err)
	}
	return w, err
}

func (s *PostgresStore) Balance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	if tenantID == "" {
		return decimal.Zero, ErrInvalidTenant
	}
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM bosun.wallets WHERE tenant_id = $1`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrWalletNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) Debit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error) {
	if err := validateMutation(tenantID, amount); err != nil {
		return nil, err
	}

	var out *Transaction
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		balance, locked, err := lockWallet(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if reference != "" {
			existing, err := findByReference(ctx, tx, tenantID, KindDebit, reason, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrDuplicateReference
			}
		}
		if locked {
			return ErrWalletLocked
		}
		if balance.LessThan(amount) {
			return ErrInsufficientBalance
		}
		out, err = appendTransaction(ctx, tx, tenantID, KindDebit, amount, reason, reference, balance)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Credit(ctx context.Context, tenantID string, amount decimal.Decimal, reason, reference string) (*Transaction, error) {
	if err := validateMutation(tenantID, amount); err != nil {
		return nil, err
	}

	var out *Transaction
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		balance, _, err := lockWallet(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if reference != "" {
			existing, err := findByReference(ctx, tx, tenantID, KindCredit, reason, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				out, err = replay(*existing, amount)
				return err
			}
		}
		out, err = appendTransaction(ctx, tx, tenantID, KindCredit, amount, reason, reference, balance)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return out, nil
}

func lockWallet(ctx context.Context, tx *sql.Tx, tenantID string) (decimal.Decimal, bool, error) {
	var balance decimal.Decimal
	var locked bool
	err := tx.QueryRowContext(ctx, `
		SELECT balance, locked
		FROM bosun.wallets
		WHERE tenant_id = $1
		FOR UPDATE
	`, tenantID).Scan(&balance, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, ErrWalletNotFound
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("lock wallet: %w", err)
	}
	return balance, locked, nil
}

func findByReference(ctx context.Context, tx *sql.Tx, tenantID string, kind Kind, reason, reference string) (*Transaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM bosun.ledger_transactions
		WHERE tenant_id = $1 AND kind = $2 AND reason = $3 AND reference = $4
	`, tenantID, string(kind), reason, reference)
	existing, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup reference: %w", err)
	}
	return existing, nil
}

func appendTransaction(ctx context.Context, tx *sql.Tx, tenantID string, kind Kind, amount decimal.Decimal, reason, reference string, before decimal.Decimal) (*Transaction, error) {
	out := &Transaction{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Amount:        amount,
		Kind:          kind,
		Reason:        reason,
		Reference:     reference,
		BalanceBefore: before,
	}
	out.BalanceAfter = before.Add(out.Delta())

	var createdAt time.Time
	err := tx.QueryRowContext(ctx, `
		INSERT INTO bosun.ledger_transactions
		(id, tenant_id, amount, kind, reason, reference, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING seq, created_at
	`, out.ID, tenantID, amount, string(kind), reason, nullableReference(reference), before, out.BalanceAfter).Scan(&out.Seq, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	out.CreatedAt = createdAt

	if _, err := tx.ExecContext(ctx, `
		UPDATE bosun.wallets
		SET balance = $1, updated_at = NOW()
		WHERE tenant_id = $2
	`, out.BalanceAfter, tenantID); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, tenantID string, limit int, before string) (*Page, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	cursor, err := pagination.DecodeCursor(before)
	if err != nil {
		return nil, err
	}
	limit = pagination.ClampLimit(limit)

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bosun.wallets WHERE tenant_id = $1)`, tenantID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check wallet: %w", err)
	}
	if !exists {
		return nil, ErrWalletNotFound
	}

	query := `SELECT ` + transactionColumns + ` FROM bosun.ledger_transactions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if upper := cursor.Before(); upper > 0 {
		query += ` AND seq < $2`
		args = append(args, upper)
	}
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT %d`, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	page := &Page{Transactions: make([]Transaction, 0, limit)}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		page.Transactions = append(page.Transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	if len(page.Transactions) > limit {
		page.Transactions = page.Transactions[:limit]
		last := page.Transactions[limit-1]
		page.NextCursor = pagination.EncodeCursor(last.Seq, last.ID)
	}
	return page, nil
}
