package messages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"frameworks/pkg/logging"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db, logging.NewTestLogger()), mock
}

func TestPostgresStore_SetBilling(t *testing.T) {
	store, mock := newMockStore(t)
	fee := decimal.RequireFromString("0.20")

	mock.ExpectExec(`INSERT INTO bosun.outbound_messages`).
		WithArgs("m-1", "org-1", "charged", "0.2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bosun.outbound_messages`).
		WithArgs("m-2", "org-1", "failed-unbilled", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetBilling(context.Background(), "m-1", "org-1", BillingCharged, &fee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetBilling(context.Background(), "m-2", "org-1", BillingFailedUnbilled, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_SetBillingTenantMismatch(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO bosun.outbound_messages`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetBilling(context.Background(), "m-1", "org-2", BillingCharged, nil)
	if !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
}

func TestPostgresStore_Outbound(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`FROM bosun.outbound_messages WHERE id = \$1`).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "billing_status", "service_fee_charged", "updated_at"}).
			AddRow("m-1", "org-1", "refunded", nil, now))

	msg, err := store.Outbound(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.BillingStatus != BillingRefunded || msg.ServiceFeeCharged != nil {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestPostgresStore_SaveInbound(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO bosun.inbound_messages`).
		WithArgs(sqlmock.AnyArg(), "org-1", "ch-1", "evt-1", `{"a":1}`).
		WillReturnRows(sqlmock.NewRows([]string{"received_at"}).AddRow(now))

	msg, err := store.SaveInbound(context.Background(), Inbound{TenantID: "org-1", ChannelID: "ch-1", EventID: "evt-1", Payload: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == "" || !msg.ReceivedAt.Equal(now) {
		t.Fatalf("unexpected message %+v", msg)
	}
}
