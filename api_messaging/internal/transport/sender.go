package transport

import (
	"context"

	"frameworks/api_messaging/internal/channels"
)

// Message is one outbound text addressed through a tenant's channel.
type Message struct {
	ID        string `json:"message_id"`
	TenantID  string `json:"tenant_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// Receipt is what the gateway returns for an accepted message.
type Receipt struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// Sender delivers one message using the channel's credentials. It makes a
// single attempt; retries belong to the caller.
type Sender interface {
	Send(ctx context.Context, ch *channels.Channel, msg Message) (*Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ch *channels.Channel, msg Message) (*Receipt, error)

func (f SenderFunc) Send(ctx context.Context, ch *channels.Channel, msg Message) (*Receipt, error) {
	return f(ctx, ch, msg)
}
