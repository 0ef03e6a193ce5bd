// Package messages persists the billing side of outbound messages and the
// raw inbound callbacks routed to tenants.
package messages

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// BillingStatus is the billing outcome recorded on an outbound message.
type BillingStatus string

const (
	BillingPending        BillingStatus = "pending"
	BillingCharged        BillingStatus = "charged"
	BillingRefunded       BillingStatus = "refunded"
	BillingFailed         BillingStatus = "failed"
	BillingFailedUnbilled BillingStatus = "failed-unbilled"
)

var (
	ErrNotFound       = errors.New("message not found")
	ErrTenantMismatch = errors.New("message belongs to another tenant")
)

// Outbound is the billing view of one outbound message.
type Outbound struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	BillingStatus     BillingStatus    `json:"billing_status"`
	ServiceFeeCharged *decimal.Decimal `json:"service_fee_charged,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Inbound is one provider callback attributed to a tenant.
type Inbound struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	ChannelID  string          `json:"channel_id"`
	EventID    string          `json:"event_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Store is message persistence as seen by billing and routing.
type Store interface {
	// SetBilling records the billing outcome. fee is nil when nothing was charged.
	SetBilling(ctx context.Context, messageID, tenantID string, status BillingStatus, fee *decimal.Decimal) error
	Outbound(ctx context.Context, messageID string) (*Outbound, error)
	SaveInbound(ctx context.Context, msg Inbound) (*Inbound, error)
}
