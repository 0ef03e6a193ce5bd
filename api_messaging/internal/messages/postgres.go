package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"frameworks/pkg/logging"
)

// PostgresStore writes to bosun.outbound_messages and bosun.inbound_messages.
type PostgresStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewPostgresStore creates a message store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB, logger logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) SetBilling(ctx context.Context, messageID, tenantID string, status BillingStatus, fee *decimal.Decimal) error {
	var charged decimal.NullDecimal
	if fee != nil {
		charged = decimal.NewNullDecimal(*fee)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bosun.outbound_messages (id, tenant_id, billing_status, service_fee_charged, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			billing_status = EXCLUDED.billing_status,
			service_fee_charged = EXCLUDED.service_fee_charged,
			updated_at = NOW()
		WHERE bosun.outbound_messages.tenant_id = EXCLUDED.tenant_id
	`, messageID, tenantID, string(status), charged)
	if err != nil {
		return fmt.Errorf("set billing status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTenantMismatch
	}

	s.logger.WithFields(logging.Fields{
		"message_id":     messageID,
		"tenant_id":      tenantID,
		"billing_status": status,
	}).Debug("Billing status recorded")
	return nil
}

func (s *PostgresStore) Outbound(ctx context.Context, messageID string) (*Outbound, error) {
	var msg Outbound
	var status string
	var fee decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, billing_status, service_fee_charged, updated_at
		FROM bosun.outbound_messages
		WHERE id = $1
	`, messageID).Scan(&msg.ID, &msg.TenantID, &status, &fee, &msg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	msg.BillingStatus = BillingStatus(status)
	if fee.Valid {
		msg.ServiceFeeCharged = &fee.Decimal
	}
	return &msg, nil
}

func (s *PostgresStore) SaveInbound(ctx context.Context, msg Inbound) (*Inbound, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	var receivedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bosun.inbound_messages (id, tenant_id, channel_id, event_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING received_at
	`, msg.ID, msg.TenantID, msg.ChannelID, msg.EventID, string(msg.Payload)).Scan(&receivedAt)
	if err != nil {
		return nil, fmt.Errorf("save inbound message: %w", err)
	}
	msg.ReceivedAt = receivedAt
	return &msg, nil
}
