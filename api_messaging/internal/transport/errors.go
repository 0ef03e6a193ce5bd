// Package transport sends outbound messages through the messaging client
// gateway. Failures come back as *SendError so the dispatch path can decide
// who pays for them.
package transport

import (
	"errors"
	"fmt"
)

// Provider error codes the gateway reports.
const (
	CodeInvalidToken        = "invalid_token"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeExpiredToken        = "expired_token"
	CodeProviderUnavailable = "provider_unavailable"
	CodeTimeout             = "timeout"
	CodeRateLimited         = "rate_limited"
	CodeInvalidRecipient    = "invalid_recipient"
	CodeRecipientBlocked    = "recipient_blocked"
	CodePolicyViolation     = "policy_violation"
	CodeMessageTooLong      = "message_too_long"
)

// SendError is a structured send failure. Code is the provider code when one
// was reported; HTTPStatus is the gateway's response status, 0 when the
// request never got a response.
type SendError struct {
	Code       string
	HTTPStatus int
	Message    string
}

// Error describes the failure without a "send failed" prefix; callers wrap
// it with their own context.
func (e *SendError) Error() string {
	var head string
	switch {
	case e.Code != "" && e.HTTPStatus != 0:
		head = fmt.Sprintf("%s (HTTP %d)", e.Code, e.HTTPStatus)
	case e.Code != "":
		head = e.Code
	default:
		head = fmt.Sprintf("HTTP %d", e.HTTPStatus)
	}
	if e.Message == "" {
		return head
	}
	return head + ": " + e.Message
}

// AsSendError unwraps err into a *SendError.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
