package channels

import (
	"errors"
	"strings"
)

var (
	ErrNotFound            = errors.New("channel not found")
	ErrDuplicateRoutingKey = errors.New("routing key is bound to another tenant")
	ErrInvalidStatus       = errors.New("invalid channel status")
	ErrInvalidChannel      = errors.New("channel requires tenant_id, platform and routing_key")
)

func validate(ch *Channel) error {
	ch.TenantID = strings.TrimSpace(ch.TenantID)
	ch.Platform = strings.ToLower(strings.TrimSpace(ch.Platform))
	ch.RoutingKey = strings.TrimSpace(ch.RoutingKey)
	if ch.TenantID == "" || ch.Platform == "" || ch.RoutingKey == "" {
		return ErrInvalidChannel
	}
	if ch.Status != "" && !ch.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}
