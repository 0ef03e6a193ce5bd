package channels

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"

	"frameworks/pkg/crypto"
	"frameworks/pkg/logging"
)

var chColumns = []string{"id", "tenant_id", "platform", "routing_key", "display_number", "credentials", "status", "connected_at", "last_sync_at", "created_at", "updated_at"}

const testChannelID = "5f0c6c1e-8b2a-4a57-9d43-0c1f6a2b7e10"

// sealedArg matches any credential value written in sealed form.
type sealedArg struct{}

func (sealedArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && crypto.IsSealed(s)
}

func newMockRegistry(t *testing.T) (*PostgresRegistry, sqlmock.Sqlmock, *crypto.Sealer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	sealer, err := crypto.NewSealer([]byte("test-master-secret"), CredentialPurpose)
	if err != nil {
		t.Fatalf("failed to create sealer: %v", err)
	}
	return NewPostgresRegistry(db, sealer, logging.NewTestLogger()), mock, sealer
}

func TestPostgresRegistry_RegisterSealsCredentials(t *testing.T) {
	reg, mock, sealer := newMockRegistry(t)
	now := time.Now()
	stored, err := sealer.Seal("provider-token")
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`INSERT INTO bosun.channels`).
		WithArgs(sqlmock.AnyArg(), "org-1", "whatsapp", "pn-1", "+31 6", sealedArg{}, "connected", true, true).
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "+31 6", stored, "connected", now, nil, now, now))

	ch, err := reg.Register(context.Background(), Channel{
		TenantID:      "org-1",
		Platform:      "WhatsApp",
		RoutingKey:    "pn-1",
		DisplayNumber: "+31 6",
		Credentials:   "provider-token",
		Status:        StatusConnected,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Credentials != "provider-token" {
		t.Fatalf("expected plaintext credentials, got %q", ch.Credentials)
	}
	if ch.ConnectedAt == nil || ch.LastSyncAt != nil {
		t.Fatalf("unexpected timestamps %+v", ch)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRegistry_RegisterForeignKeyConflict(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)

	// The upsert's WHERE clause filters out another tenant's row.
	mock.ExpectQuery(`INSERT INTO bosun.channels`).
		WillReturnRows(sqlmock.NewRows(chColumns))

	_, err := reg.Register(context.Background(), Channel{TenantID: "org-2", Platform: "whatsapp", RoutingKey: "pn-1"})
	if !errors.Is(err, ErrDuplicateRoutingKey) {
		t.Fatalf("expected ErrDuplicateRoutingKey, got %v", err)
	}
}

func TestPostgresRegistry_RegisterRejectsBadID(t *testing.T) {
	reg, _, _ := newMockRegistry(t)
	_, err := reg.Register(context.Background(), Channel{ID: "nope", TenantID: "org-1", Platform: "whatsapp", RoutingKey: "pn-1"})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestPostgresRegistry_ActiveChannel(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(`WHERE tenant_id = \$1 AND status = 'connected' ORDER BY connected_at DESC NULLS LAST, id DESC LIMIT 1`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "", "legacy-plain", "connected", now, now, now, now))
	mock.ExpectQuery(`WHERE tenant_id = \$1 AND status = 'connected'`).
		WithArgs("org-2").
		WillReturnError(sql.ErrNoRows)

	ch, err := reg.ActiveChannel(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Credentials != "legacy-plain" {
		t.Fatalf("unsealed rows should load as-is, got %q", ch.Credentials)
	}
	if _, err := reg.ActiveChannel(context.Background(), "org-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRegistry_SetStatusStampsConnectedAt(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(`UPDATE bosun.channels SET status = \$1`).
		WithArgs("connected", true, testChannelID).
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "", "", "connected", now, nil, now, now))

	ch, err := reg.SetStatus(context.Background(), testChannelID, StatusConnected)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Status != StatusConnected || ch.ConnectedAt == nil {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if _, err := reg.SetStatus(context.Background(), "not-a-uuid", StatusConnected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// Successful writes are logged by the HTTP layer, not here.
func TestPostgresRegistry_WritesDoNotLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	sealer, err := crypto.NewSealer([]byte("test-master-secret"), CredentialPurpose)
	if err != nil {
		t.Fatal(err)
	}
	logger, hook := test.NewNullLogger()
	reg := NewPostgresRegistry(db, sealer, logger)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO bosun.channels`).
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "", "", "connected", now, nil, now, now))
	mock.ExpectQuery(`UPDATE bosun.channels SET status = \$1`).
		WithArgs("suspended", false, testChannelID).
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "", "", "suspended", now, nil, now, now))

	if _, err := reg.Register(context.Background(), Channel{TenantID: "org-1", Platform: "whatsapp", RoutingKey: "pn-1", Status: StatusConnected}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.SetStatus(context.Background(), testChannelID, StatusSuspended); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if n := len(hook.AllEntries()); n != 0 {
		t.Fatalf("expected no log entries, got %d: %s", n, hook.LastEntry().Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRegistry_DisconnectSiblings(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(`FROM bosun.channels WHERE id = \$1`).
		WithArgs(testChannelID).
		WillReturnRows(sqlmock.NewRows(chColumns).
			AddRow(testChannelID, "org-1", "whatsapp", "pn-1", "", "", "connected", now, nil, now, now))
	mock.ExpectExec(`UPDATE bosun.channels SET status = 'disconnected'`).
		WithArgs("org-1", testChannelID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := reg.DisconnectSiblings(context.Background(), testChannelID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestPostgresRegistry_TouchAndDeleteMissing(t *testing.T) {
	reg, mock, _ := newMockRegistry(t)

	mock.ExpectExec(`UPDATE bosun.channels SET last_sync_at = NOW\(\)`).
		WithArgs(testChannelID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM bosun.channels`).
		WithArgs(testChannelID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := reg.Touch(context.Background(), testChannelID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := reg.Delete(context.Background(), testChannelID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
