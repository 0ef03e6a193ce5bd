// Package inbound attributes provider callbacks to the tenant that owns the
// routing key they carry.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"frameworks/api_messaging/internal/channels"
	"frameworks/api_messaging/internal/messages"
	"frameworks/pkg/logging"
	"frameworks/pkg/monitoring"
)

// ErrUnroutable is returned for a routing key no channel owns.
var ErrUnroutable = errors.New("no channel owns routing key")

// Routed describes where an inbound event went.
type Routed struct {
	TenantID  string `json:"tenant_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Metrics counts routing results. A nil *Metrics records nothing.
type Metrics struct {
	Results *prometheus.CounterVec
}

// NewMetrics registers the inbound routing counter on mc.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Results: mc.NewCounter("inbound_events_total", "Inbound provider events by routing result", []string{"result"}),
	}
}

func (m *Metrics) result(r string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(r).Inc()
}

// Router resolves routing keys and hands payloads to message persistence.
type Router struct {
	channels channels.Registry
	messages messages.Store
	deduper  Deduper
	metrics  *Metrics
	logger   logging.Logger
}

// NewRouter creates a Router. deduper and metrics may be nil.
func NewRouter(registry channels.Registry, store messages.Store, deduper Deduper, metrics *Metrics, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Router{
		channels: registry,
		messages: store,
		deduper:  deduper,
		metrics:  metrics,
		logger:   logger,
	}
}

// Route attributes payload to the owner of routingKey and persists it.
// eventID is the provider's id for the event; when set and a deduper is
// configured, redeliveries within the dedupe window are acknowledged with
// Duplicate set and not stored again.
func (r *Router) Route(ctx context.Context, routingKey, eventID string, payload json.RawMessage) (*Routed, error) {
	log := r.logger.WithFields(logging.Fields{
		"routing_key": routingKey,
		"event_id":    eventID,
	})

	if routingKey == "" {
		log.Warn("Dropping inbound event without routing key")
		r.metrics.result("unroutable")
		return nil, ErrUnroutable
	}
	ch, err := r.channels.ByRoutingKey(ctx, routingKey)
	if errors.Is(err, channels.ErrNotFound) {
		log.Warn("Dropping inbound event for unknown routing key")
		r.metrics.result("unroutable")
		return nil, ErrUnroutable
	}
	if err != nil {
		r.metrics.result("error")
		return nil, fmt.Errorf("resolve routing key: %w", err)
	}
	routed := &Routed{TenantID: ch.TenantID, ChannelID: ch.ID}
	log = log.WithFields(logging.Fields{"tenant_id": ch.TenantID, "channel_id": ch.ID})
	if ch.Status != channels.StatusConnected {
		log.WithField("status", ch.Status).Debug("Routing inbound event to channel that is not connected")
	}

	claimed := false
	dedupeKey := ch.Platform + ":" + eventID
	if r.deduper != nil && eventID != "" {
		fresh, err := r.deduper.Claim(ctx, dedupeKey)
		switch {
		case err != nil:
			// Route without dedupe while Redis is unavailable.
			log.WithError(err).Warn("Dedupe check failed")
		case !fresh:
			log.Debug("Duplicate inbound event acknowledged")
			r.metrics.result("duplicate")
			routed.Duplicate = true
			return routed, nil
		default:
			claimed = true
		}
	}

	saved, err := r.messages.SaveInbound(ctx, messages.Inbound{
		TenantID:  ch.TenantID,
		ChannelID: ch.ID,
		EventID:   eventID,
		Payload:   payload,
	})
	if err != nil {
		if claimed {
			if rerr := r.deduper.Release(context.WithoutCancel(ctx), dedupeKey); rerr != nil {
				log.WithError(rerr).Warn("Failed to release dedupe key")
			}
		}
		r.metrics.result("error")
		return nil, fmt.Errorf("save inbound message: %w", err)
	}
	routed.MessageID = saved.ID

	if err := r.channels.Touch(ctx, ch.ID); err != nil {
		log.WithError(err).Warn("Failed to update channel last sync")
	}
	r.metrics.result("routed")
	log.Debug("Inbound event routed")
	return routed, nil
}
