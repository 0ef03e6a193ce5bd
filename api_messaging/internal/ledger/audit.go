package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AuditReport is the outcome of replaying one tenant's history.
type AuditReport struct {
	TenantID        string          `json:"tenant_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Transactions    int             `json:"transactions"`
	Consistent      bool            `json:"consistent"`
}

// Replay folds a complete, oldest-first history from zero. Each transaction
// must start where the previous one ended and its after-balance must equal
// before ± amount.
func Replay(txs []Transaction) (decimal.Decimal, error) {
	running := decimal.Zero
	for i, tx := range txs {
		if !tx.Amount.IsPositive() {
			return running, fmt.Errorf("%w: transaction %s has non-positive amount %s", ErrAuditMismatch, tx.ID, tx.Amount)
		}
		if !tx.BalanceBefore.Equal(running) {
			return running, fmt.Errorf("%w: transaction %d (%s) starts at %s, expected %s", ErrAuditMismatch, i, tx.ID, tx.BalanceBefore, running)
		}
		running = running.Add(tx.Delta())
		if !tx.BalanceAfter.Equal(running) {
			return running, fmt.Errorf("%w: transaction %d (%s) ends at %s, expected %s", ErrAuditMismatch, i, tx.ID, tx.BalanceAfter, running)
		}
		if running.IsNegative() {
			return running, fmt.Errorf("%w: balance negative after transaction %s", ErrAuditMismatch, tx.ID)
		}
	}
	return running, nil
}

const auditAttempts = 3

// Audit pages through a tenant's full history and checks the fold against
// the stored balance. A write landing between the history scan and the
// balance read is retried before a mismatch is reported.
func Audit(ctx context.Context, store Store, tenantID string) (*AuditReport, error) {
	var report *AuditReport
	for attempt := 0; attempt < auditAttempts; attempt++ {
		txs, err := fullHistory(ctx, store, tenantID)
		if err != nil {
			return nil, err
		}
		replayed, replayErr := Replay(txs)
		stored, err := store.Balance(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		report = &AuditReport{
			TenantID:        tenantID,
			StoredBalance:   stored,
			ReplayedBalance: replayed,
			Transactions:    len(txs),
			Consistent:      replayErr == nil && replayed.Equal(stored),
		}
		if replayErr != nil {
			return report, replayErr
		}
		if report.Consistent {
			return report, nil
		}
	}
	return report, fmt.Errorf("%w: tenant %s stored %s, replayed %s", ErrAuditMismatch, tenantID, report.StoredBalance, report.ReplayedBalance)
}

// fullHistory returns every transaction oldest first.
func fullHistory(ctx context.Context, store Store, tenantID string) ([]Transaction, error) {
	var newestFirst []Transaction
	cursor := ""
	for {
		page, err := store.History(ctx, tenantID, 0, cursor)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, page.Transactions...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	out := make([]Transaction, len(newestFirst))
	for i, tx := range newestFirst {
		out[len(newestFirst)-1-i] = tx
	}
	return out, nil
}
