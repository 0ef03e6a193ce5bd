package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"frameworks/api_messaging/internal/inbound"
	"frameworks/pkg/auth"
	"frameworks/pkg/logging"
)

const maxWebhookBody = 1 << 20

// whatsappPayload is the subset of the WhatsApp Cloud webhook shape used for routing.
type whatsappPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string          `json:"field"`
			Value json.RawMessage `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsappValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

// genericPayload is the flat shape other providers post.
type genericPayload struct {
	RoutingKey string `json:"routing_key"`
	EventID    string `json:"event_id"`
}

// webhookEvent is one routable unit extracted from a callback body.
type webhookEvent struct {
	RoutingKey string
	EventID    string
	Payload    json.RawMessage
}

// extractEvents splits a callback body into routable events. WhatsApp Cloud
// bodies yield one event per change; anything else is a single event.
func extractEvents(body []byte) ([]webhookEvent, error) {
	var wa whatsappPayload
	if err := json.Unmarshal(body, &wa); err != nil {
		return nil, err
	}
	if len(wa.Entry) > 0 {
		var out []webhookEvent
		for _, entry := range wa.Entry {
			for _, change := range entry.Changes {
				var v whatsappValue
				if err := json.Unmarshal(change.Value, &v); err != nil {
					return nil, err
				}
				evt := webhookEvent{RoutingKey: v.Metadata.PhoneNumberID, Payload: change.Value}
				switch {
				case len(v.Messages) > 0:
					evt.EventID = v.Messages[0].ID
				case len(v.Statuses) > 0:
					evt.EventID = v.Statuses[0].ID + ":" + v.Statuses[0].Status
				}
				out = append(out, evt)
			}
		}
		return out, nil
	}

	var g genericPayload
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, err
	}
	return []webhookEvent{{RoutingKey: g.RoutingKey, EventID: g.EventID, Payload: body}}, nil
}

// WebhookSummary counts what happened to the events in one callback.
type WebhookSummary struct {
	Routed     int `json:"routed"`
	Duplicates int `json:"duplicates"`
	Unroutable int `json:"unroutable"`
}

// HandleWebhook handles POST /webhooks/:platform. Unroutable events are
// acknowledged with 200 so the provider does not redeliver them.
func HandleWebhook(c *gin.Context) {
	platform := c.Param("platform")
	log := logger.WithField("platform", platform)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}
	if webhookSecret != "" {
		if err := auth.VerifyHubSignature(body, c.GetHeader(auth.HubSignatureHeader), webhookSecret); err != nil {
			log.WithError(err).Warn("Rejected webhook with bad signature")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
	}

	evts, err := extractEvents(body)
	if err != nil {
		badRequest(c, "invalid JSON payload")
		return
	}

	var summary WebhookSummary
	for _, evt := range evts {
		routed, err := router.Route(c.Request.Context(), evt.RoutingKey, evt.EventID, evt.Payload)
		switch {
		case errors.Is(err, inbound.ErrUnroutable):
			summary.Unroutable++
		case err != nil:
			log.WithError(err).WithFields(logging.Fields{
				"routing_key": evt.RoutingKey,
				"event_id":    evt.EventID,
			}).Error("Failed to route webhook event")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to route event", Result: summary})
			return
		case routed.Duplicate:
			summary.Duplicates++
		default:
			summary.Routed++
		}
	}
	c.JSON(http.StatusOK, summary)
}

// VerifyWebhook handles GET /webhooks/:platform, the provider's subscription
// handshake: echo hub.challenge when hub.verify_token matches.
func VerifyWebhook(c *gin.Context) {
	if webhookVerifyToken == "" ||
		c.Query("hub.mode") != "subscribe" ||
		c.Query("hub.verify_token") != webhookVerifyToken {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "verification failed"})
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}
