// Package classify decides who pays for a failed send.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"

	"frameworks/api_messaging/internal/transport"
)

// Class is the billing consequence of a send failure.
type Class string

const (
	// Refundable failures are on the platform side: the fee goes back.
	Refundable Class = "refundable"
	// NonRefundable failures were caused by the message or its recipient:
	// the service was rendered and the fee stands.
	NonRefundable Class = "non_refundable"
	// Retryable failures are transient; retry, and refund once retries run out.
	Retryable Class = "retryable"
)

var codeClasses = map[string]Class{
	transport.CodeInvalidToken:        Refundable,
	transport.CodeUnauthorized:        Refundable,
	transport.CodeForbidden:           Refundable,
	transport.CodeExpiredToken:        Refundable,
	transport.CodeProviderUnavailable: Retryable,
	transport.CodeTimeout:             Retryable,
	transport.CodeRateLimited:         Retryable,
	transport.CodeInvalidRecipient:    NonRefundable,
	transport.CodeRecipientBlocked:    NonRefundable,
	transport.CodePolicyViolation:     NonRefundable,
	transport.CodeMessageTooLong:      NonRefundable,
}

// Classify maps a send error to its class. Provider codes take precedence
// over HTTP status; anything unrecognised is refundable because the platform
// cannot show the message went out.
func Classify(err error) Class {
	if err == nil {
		return Refundable
	}
	if se, ok := transport.AsSendError(err); ok {
		if c, ok := codeClasses[se.Code]; ok {
			return c
		}
		if se.HTTPStatus != 0 {
			return byStatus(se.HTTPStatus)
		}
		return Refundable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	return Refundable
}

func byStatus(status int) Class {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Refundable
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusGatewayTimeout,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return Retryable
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NonRefundable
	}
	if status >= 500 {
		return Retryable
	}
	return Refundable
}
