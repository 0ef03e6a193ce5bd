package dispatch

import "errors"

var (
	ErrInvalidRequest    = errors.New("message_id and tenant_id are required")
	ErrNoChannel         = errors.New("tenant has no connected channel")
	ErrAlreadyDispatched = errors.New("message was already dispatched")
	ErrSendFailed        = errors.New("send failed")
	ErrRefundFailed      = errors.New("refund could not be recorded")
)
