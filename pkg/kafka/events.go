// Package kafka wraps franz-go for publishing JSON event envelopes.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the JSON envelope every published event uses.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// PublishEvent marshals event and produces it keyed by tenant, so one
// tenant's events keep their order within a partition.
func (p *Producer) PublishEvent(ctx context.Context, topic string, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := map[string]string{
		"source":     event.Source,
		"event_type": event.Type,
	}
	key := []byte(event.ID)
	if event.TenantID != "" {
		headers["tenant_id"] = event.TenantID
		key = []byte(event.TenantID)
	}
	return p.ProduceMessage(ctx, topic, key, value, headers)
}
