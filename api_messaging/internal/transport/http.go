package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"frameworks/api_messaging/internal/channels"
	"frameworks/pkg/clients"
	"frameworks/pkg/logging"
)

// HTTPSenderConfig configures the gateway client.
type HTTPSenderConfig struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	Logger       logging.Logger
	// CircuitBreaker is optional; nil builds one named "messaging-gateway".
	CircuitBreaker *clients.CircuitBreaker
}

// HTTPSender posts messages to the messaging client gateway.
type HTTPSender struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	breaker      *clients.CircuitBreaker
	logger       logging.Logger
}

type sendRequest struct {
	MessageID  string `json:"message_id"`
	TenantID   string `json:"tenant_id"`
	Platform   string `json:"platform"`
	RoutingKey string `json:"routing_key"`
	Recipient  string `json:"recipient"`
	Body       string `json:"body"`
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPSender creates a gateway client.
func NewHTTPSender(cfg HTTPSenderConfig) *HTTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	breaker := cfg.CircuitBreaker
	if breaker == nil {
		breaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:          "messaging-gateway",
			Logger:        cfg.Logger,
			IsFailure:     isGatewayFailure,
			OnStateChange: clients.CircuitBreakerMetricsCallback(),
		})
	}
	return &HTTPSender{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		serviceToken: cfg.ServiceToken,
		httpClient:   clients.NewHTTPClient(cfg.Timeout, clients.DefaultPool()),
		breaker:      breaker,
		logger:       cfg.Logger,
	}
}

// isGatewayFailure counts only outages against the circuit; a provider
// rejecting one message says nothing about gateway health.
func isGatewayFailure(err error) bool {
	se, ok := AsSendError(err)
	if !ok {
		return true
	}
	return se.HTTPStatus == 0 || se.HTTPStatus >= 500
}

// Send makes one attempt through the circuit breaker.
func (s *HTTPSender) Send(ctx context.Context, ch *channels.Channel, msg Message) (*Receipt, error) {
	payload, err := json.Marshal(sendRequest{
		MessageID:  msg.ID,
		TenantID:   msg.TenantID,
		Platform:   ch.Platform,
		RoutingKey: ch.RoutingKey,
		Recipient:  msg.Recipient,
		Body:       msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var receipt *Receipt
	err = s.breaker.Call(func() error {
		var callErr error
		receipt, callErr = s.do(ctx, ch, payload)
		return callErr
	})
	if clients.IsOpenError(err) {
		return nil, &SendError{Code: CodeProviderUnavailable, Message: "messaging gateway circuit open"}
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *HTTPSender) do(ctx context.Context, ch *channels.Channel, payload []byte) (*Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ch.Credentials)
	if s.serviceToken != "" {
		req.Header.Set("X-Service-Token", s.serviceToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var receipt Receipt
		if len(body) > 0 {
			if err := json.Unmarshal(body, &receipt); err != nil {
				s.logger.WithError(err).Warn("Gateway accepted message with unreadable receipt")
			}
		}
		return &receipt, nil
	}
	return nil, decodeSendError(resp.StatusCode, body)
}

// decodeSendError accepts {"error": {"code","message"}}, {"error": "text"}
// and flat {"code","message"} bodies.
func decodeSendError(status int, body []byte) *SendError {
	se := &SendError{HTTPStatus: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		se.Message = strings.TrimSpace(string(body))
		if se.Message == "" {
			se.Message = http.StatusText(status)
		}
		return se
	}

	se.Code, se.Message = eb.Code, eb.Message
	if len(eb.Error) > 0 {
		var nested nestedError
		var text string
		switch {
		case json.Unmarshal(eb.Error, &nested) == nil:
			se.Code, se.Message = nested.Code, nested.Message
		case json.Unmarshal(eb.Error, &text) == nil:
			se.Message = text
		}
	}
	if se.Message == "" {
		se.Message = http.StatusText(status)
	}
	return se
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &SendError{Code: CodeTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &SendError{Code: CodeProviderUnavailable, Message: err.Error()}
}
