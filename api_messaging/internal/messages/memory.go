package messages

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps messages in process.
type MemoryStore struct {
	mu       sync.RWMutex
	outbound map[string]*Outbound
	inbound  []Inbound
	now      func() time.Time
}

// NewMemoryStore creates an empty message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outbound: make(map[string]*Outbound),
		now:      time.Now,
	}
}

func (s *MemoryStore) SetBilling(ctx context.Context, messageID, tenantID string, status BillingStatus, fee *decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.outbound[messageID]
	if !ok {
		msg = &Outbound{ID: messageID, TenantID: tenantID}
		s.outbound[messageID] = msg
	} else if msg.TenantID != tenantID {
		return ErrTenantMismatch
	}
	msg.BillingStatus = status
	msg.ServiceFeeCharged = nil
	if fee != nil {
		f := *fee
		msg.ServiceFeeCharged = &f
	}
	msg.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Outbound(ctx context.Context, messageID string) (*Outbound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.outbound[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *msg
	return &out, nil
}

func (s *MemoryStore) SaveInbound(ctx context.Context, msg Inbound) (*Inbound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Payload = append(json.RawMessage(nil), msg.Payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ReceivedAt = s.now()
	s.inbound = append(s.inbound, msg)
	return &msg, nil
}

// Inbound returns a tenant's routed callbacks, oldest first.
func (s *MemoryStore) Inbound(tenantID string) []Inbound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Inbound
	for _, m := range s.inbound {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out
}
