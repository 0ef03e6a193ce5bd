// Package channels is the registry of per-tenant messaging provider
// credentials. It answers two questions: which channel should a tenant send
// through, and which tenant owns an inbound routing key.
package channels

import (
	"context"
	"time"
)

// Status is the lifecycle state of a channel.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusSuspended    Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusDisconnected, StatusSuspended:
		return true
	}
	return false
}

// Channel binds a tenant to one provider account. RoutingKey is the
// provider-side identifier inbound callbacks carry (for WhatsApp Cloud, the
// phone number id) and is unique across all tenants.
type Channel struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Platform      string     `json:"platform"`
	RoutingKey    string     `json:"routing_key"`
	DisplayNumber string     `json:"display_number"`
	Credentials   string     `json:"-"`
	Status        Status     `json:"status"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// moreRecentThan orders connected channels for ActiveChannel: latest
// connected_at first, ties broken by the greater id.
func (c *Channel) moreRecentThan(other *Channel) bool {
	a, b := connectedAt(c), connectedAt(other)
	if !a.Equal(b) {
		return a.After(b)
	}
	return c.ID > other.ID
}

func connectedAt(c *Channel) time.Time {
	if c.ConnectedAt == nil {
		return time.Time{}
	}
	return *c.ConnectedAt
}

// Registry stores channels. Implementations keep a single source of truth for
// the routing key mapping; the tenant view is an index over it.
type Registry interface {
	Register(ctx context.Context, ch Channel) (*Channel, error)
	Get(ctx context.Context, channelID string) (*Channel, error)
	ActiveChannel(ctx context.Context, tenantID string) (*Channel, error)
	ByRoutingKey(ctx context.Context, routingKey string) (*Channel, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Channel, error)
	SetStatus(ctx context.Context, channelID string, status Status) (*Channel, error)
	DisconnectSiblings(ctx context.Context, channelID string) (int, error)
	Touch(ctx context.Context, channelID string) error
	Delete(ctx context.Context, channelID string) error
}
