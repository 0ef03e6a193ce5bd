package channels

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry keeps channels keyed by routing key, with secondary indexes
// by id and by tenant that point back into that map.
type MemoryRegistry struct {
	mu       sync.RWMutex
	byKey    map[string]*Channel
	keyByID  map[string]string
	byTenant map[string]map[string]struct{}
	now      func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byKey:    make(map[string]*Channel),
		keyByID:  make(map[string]string),
		byTenant: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func clone(ch *Channel) *Channel {
	out := *ch
	if ch.ConnectedAt != nil {
		t := *ch.ConnectedAt
		out.ConnectedAt = &t
	}
	if ch.LastSyncAt != nil {
		t := *ch.LastSyncAt
		out.LastSyncAt = &t
	}
	return &out
}

func (r *MemoryRegistry) Register(ctx context.Context, ch Channel) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validate(&ch); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	if existing, ok := r.byKey[ch.RoutingKey]; ok {
		if existing.TenantID != ch.TenantID {
			return nil, ErrDuplicateRoutingKey
		}
		existing.Platform = ch.Platform
		existing.DisplayNumber = ch.DisplayNumber
		existing.Credentials = ch.Credentials
		if ch.Status != "" {
			r.applyStatus(existing, ch.Status, now)
		}
		existing.UpdatedAt = now
		return clone(existing), nil
	}

	stored := &Channel{
		ID:            ch.ID,
		TenantID:      ch.TenantID,
		Platform:      ch.Platform,
		RoutingKey:    ch.RoutingKey,
		DisplayNumber: ch.DisplayNumber,
		Credentials:   ch.Credentials,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if ch.Status != "" {
		r.applyStatus(stored, ch.Status, now)
	}

	r.byKey[stored.RoutingKey] = stored
	r.keyByID[stored.ID] = stored.RoutingKey
	if r.byTenant[stored.TenantID] == nil {
		r.byTenant[stored.TenantID] = make(map[string]struct{})
	}
	r.byTenant[stored.TenantID][stored.RoutingKey] = struct{}{}
	return clone(stored), nil
}

// applyStatus must be called with r.mu held.
func (r *MemoryRegistry) applyStatus(ch *Channel, status Status, now time.Time) {
	if status == StatusConnected {
		t := now
		ch.ConnectedAt = &t
	}
	ch.Status = status
	ch.UpdatedAt = now
}

// lookupID must be called with r.mu held.
func (r *MemoryRegistry) lookupID(channelID string) (*Channel, error) {
	key, ok := r.keyByID[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byKey[key], nil
}

func (r *MemoryRegistry) Get(ctx context.Context, channelID string) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, err := r.lookupID(channelID)
	if err != nil {
		return nil, err
	}
	return clone(ch), nil
}

func (r *MemoryRegistry) ActiveChannel(ctx context.Context, tenantID string) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Channel
	for key := range r.byTenant[tenantID] {
		ch := r.byKey[key]
		if ch.Status != StatusConnected {
			continue
		}
		if best == nil || ch.moreRecentThan(best) {
			best = ch
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return clone(best), nil
}

func (r *MemoryRegistry) ByRoutingKey(ctx context.Context, routingKey string) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byKey[routingKey]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(ch), nil
}

func (r *MemoryRegistry) ListByTenant(ctx context.Context, tenantID string) ([]Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.byTenant[tenantID]))
	for key := range r.byTenant[tenantID] {
		out = append(out, *clone(r.byKey[key]))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRegistry) SetStatus(ctx context.Context, channelID string, status Status) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.lookupID(channelID)
	if err != nil {
		return nil, err
	}
	r.applyStatus(ch, status, r.now())
	return clone(ch), nil
}

func (r *MemoryRegistry) DisconnectSiblings(ctx context.Context, channelID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keep, err := r.lookupID(channelID)
	if err != nil {
		return 0, err
	}

	now := r.now()
	n := 0
	for key := range r.byTenant[keep.TenantID] {
		ch := r.byKey[key]
		if ch.ID == keep.ID || ch.Status != StatusConnected {
			continue
		}
		r.applyStatus(ch, StatusDisconnected, now)
		n++
	}
	return n, nil
}

func (r *MemoryRegistry) Touch(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.lookupID(channelID)
	if err != nil {
		return err
	}
	now := r.now()
	ch.LastSyncAt = &now
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.lookupID(channelID)
	if err != nil {
		return err
	}
	delete(r.byKey, ch.RoutingKey)
	delete(r.keyByID, ch.ID)
	if keys := r.byTenant[ch.TenantID]; keys != nil {
		delete(keys, ch.RoutingKey)
		if len(keys) == 0 {
			delete(r.byTenant, ch.TenantID)
		}
	}
	return nil
}
