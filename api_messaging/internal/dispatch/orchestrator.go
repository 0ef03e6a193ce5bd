// Package dispatch charges a tenant for an outbound message, sends it, and
// either keeps or refunds the fee depending on how the send went.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"

	"frameworks/api_messaging/internal/channels"
	"frameworks/api_messaging/internal/classify"
	"frameworks/api_messaging/internal/events"
	"frameworks/api_messaging/internal/ledger"
	"frameworks/api_messaging/internal/messages"
	"frameworks/api_messaging/internal/transport"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
)

// User-visible outcome texts. A failed send says whether the fee was kept.
const (
	OutcomeSent       = "message sent"
	OutcomeNotCharged = "send failed, fee was not charged"
	OutcomeRetained   = "send failed, fee was retained"
)

// Config holds the billing and send policy.
type Config struct {
	Fee         decimal.Decimal
	SendTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	// FinalizeTimeout bounds refunds and status writes, which run detached
	// from the caller's context.
	FinalizeTimeout time.Duration
}

// DefaultConfig returns the stock policy: 0.20 per message, 10s per attempt,
// two immediate retries.
func DefaultConfig() Config {
	return Config{
		Fee:             decimal.RequireFromString("0.20"),
		SendTimeout:     10 * time.Second,
		MaxRetries:      2,
		RetryDelay:      200 * time.Millisecond,
		FinalizeTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Ledger    ledger.Store
	Channels  channels.Registry
	Sender    transport.Sender
	Messages  messages.Store
	Publisher events.Publisher
	Metrics   *Metrics
	Logger    logging.Logger
}

// Request is one outbound message to bill and send.
type Request struct {
	MessageID string `json:"message_id"`
	TenantID  string `json:"tenant_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// Result is the billing outcome of one dispatch.
type Result struct {
	MessageID         string                 `json:"message_id"`
	TenantID          string                 `json:"tenant_id"`
	ChannelID         string                 `json:"channel_id,omitempty"`
	Status            messages.BillingStatus `json:"billing_status"`
	FeeCharged        *decimal.Decimal       `json:"service_fee_charged,omitempty"`
	Attempts          int                    `json:"attempts"`
	Classification    classify.Class         `json:"classification,omitempty"`
	ProviderMessageID string                 `json:"provider_message_id,omitempty"`
	Outcome           string                 `json:"outcome"`
}

// Orchestrator runs charge, send, then commit or refund.
type Orchestrator struct {
	ledger    ledger.Store
	channels  channels.Registry
	sender    transport.Sender
	messages  messages.Store
	publisher events.Publisher
	metrics   *Metrics
	logger    logging.Logger
	cfg       Config
}

// New creates an Orchestrator. Zero config fields fall back to DefaultConfig.
// A fee with more fractional digits than the ledger keeps is rejected.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	def := DefaultConfig()
	if !cfg.Fee.IsPositive() {
		cfg.Fee = def.Fee
	}
	if !cfg.Fee.Equal(cfg.Fee.Round(billing.AmountScale)) {
		return nil, fmt.Errorf("service fee %s: %w", cfg.Fee, ledger.ErrInvalidAmount)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = def.FinalizeTimeout
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger()
	}
	return &Orchestrator{
		ledger:    deps.Ledger,
		channels:  deps.Channels,
		sender:    deps.Sender,
		messages:  deps.Messages,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}, nil
}

// Fee returns the per-message service fee.
func (o *Orchestrator) Fee() decimal.Decimal {
	return o.cfg.Fee
}

// Dispatch bills and sends one message. The returned Result is non-nil
// whenever the message reached a billing status; err explains a failure.
// Send failures wrap both ErrSendFailed and the underlying send error.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.MessageID == "" || req.TenantID == "" {
		return nil, ErrInvalidRequest
	}
	log := o.logger.WithFields(logging.Fields{
		"tenant_id":  req.TenantID,
		"message_id": req.MessageID,
	})
	res := &Result{MessageID: req.MessageID, TenantID: req.TenantID}

	ch, err := o.channels.ActiveChannel(ctx, req.TenantID)
	if errors.Is(err, channels.ErrNotFound) {
		log.Info("No connected channel, message not billed")
		o.finishUnbilled(ctx, res, "no connected channel")
		o.metrics.outcome("no_channel")
		return res, ErrNoChannel
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	res.ChannelID = ch.ID
	log = log.WithField("channel_id", ch.ID)

	fee := o.cfg.Fee
	debit, err := o.ledger.Debit(ctx, req.TenantID, fee, ledger.ReasonServiceFee, req.MessageID)
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		log.Warn("Duplicate dispatch rejected")
		o.metrics.outcome("duplicate")
		return nil, ErrAlreadyDispatched
	case ledger.IsUnfunded(err), errors.Is(err, ledger.ErrWalletNotFound):
		log.WithError(err).Info("Fee not covered, message not sent")
		o.finishUnbilled(ctx, res, err.Error())
		o.metrics.outcome("unfunded")
		return res, err
	case err != nil:
		return nil, fmt.Errorf("charge service fee: %w", err)
	}
	res.FeeCharged = &fee
	o.checkLowBalance(ctx, debit)

	receipt, attempts, sendErr := o.send(ctx, ch, req)
	res.Attempts = attempts
	if sendErr == nil {
		if receipt != nil {
			res.ProviderMessageID = receipt.ProviderMessageID
		}
		res.Status = messages.BillingCharged
		res.Outcome = OutcomeSent
		o.finalize(ctx, res, events.TypeMessageCharged, debit.BalanceAfter, "")
		o.metrics.outcome("charged")
		log.WithField("attempts", attempts).Info("Message sent and charged")
		return res, nil
	}

	class := classify.Classify(sendErr)
	res.Classification = class
	log = log.WithError(sendErr).WithFields(logging.Fields{
		"classification": class,
		"attempts":       attempts,
	})

	if class == classify.NonRefundable {
		res.Status = messages.BillingFailed
		res.Outcome = OutcomeRetained
		o.finalize(ctx, res, events.TypeMessageFailed, debit.BalanceAfter, sendErr.Error())
		o.metrics.outcome("failed")
		log.Info("Send failed on recipient side, fee retained")
		return res, fmt.Errorf("%w: %w", ErrSendFailed, sendErr)
	}

	// Refundable, or retryable with retries exhausted.
	refund, err := o.refund(ctx, req)
	if err != nil {
		res.Status = messages.BillingPending
		res.Outcome = OutcomeRetained
		o.setBilling(ctx, res)
		o.metrics.outcome("refund_failed")
		log.WithField("refund_error", err.Error()).Error("Refund failed, message left for reconciliation")
		return res, fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	res.Status = messages.BillingRefunded
	res.FeeCharged = nil
	res.Outcome = OutcomeNotCharged
	o.finalize(ctx, res, events.TypeMessageRefunded, refund.BalanceAfter, sendErr.Error())
	o.metrics.outcome("refunded")
	log.Info("Send failed, fee refunded")
	return res, fmt.Errorf("%w: %w", ErrSendFailed, sendErr)
}

// send runs the attempt loop. Only retryable failures are retried; each
// attempt gets its own timeout.
func (o *Orchestrator) send(ctx context.Context, ch *channels.Channel, req Request) (*transport.Receipt, int, error) {
	builder := retrypolicy.NewBuilder[*transport.Receipt]().
		HandleIf(func(_ *transport.Receipt, err error) bool {
			return err != nil && classify.Classify(err) == classify.Retryable
		}).
		WithMaxRetries(o.cfg.MaxRetries).
		ReturnLastFailure()
	if o.cfg.RetryDelay > 0 {
		builder = builder.WithDelay(o.cfg.RetryDelay)
	}

	msg := transport.Message{
		ID:        req.MessageID,
		TenantID:  req.TenantID,
		Recipient: req.Recipient,
		Body:      req.Body,
	}

	attempts := 0
	receipt, err := failsafe.With[*transport.Receipt](builder.Build()).WithContext(ctx).Get(func() (*transport.Receipt, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
		defer cancel()

		start := time.Now()
		r, err := o.sender.Send(attemptCtx, ch, msg)
		result := "ok"
		if err != nil {
			result = string(classify.Classify(err))
		}
		o.metrics.attempt(result, time.Since(start).Seconds())
		return r, err
	})
	return receipt, attempts, err
}

// detached returns a context that survives caller cancellation, bounded by
// FinalizeTimeout.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
}

func (o *Orchestrator) refund(ctx context.Context, req Request) (*ledger.Transaction, error) {
	dctx, cancel := o.detached(ctx)
	defer cancel()
	return o.ledger.Credit(dctx, req.TenantID, o.cfg.Fee, ledger.ReasonRefund, req.MessageID)
}

func (o *Orchestrator) finishUnbilled(ctx context.Context, res *Result, detail string) {
	res.Status = messages.BillingFailedUnbilled
	res.Outcome = OutcomeNotCharged
	o.setBilling(ctx, res)
	o.publish(ctx, events.Event{
		Type:      events.TypeMessageUnbilled,
		TenantID:  res.TenantID,
		MessageID: res.MessageID,
		Detail:    detail,
	})
}

func (o *Orchestrator) finalize(ctx context.Context, res *Result, eventType string, balance decimal.Decimal, detail string) {
	o.setBilling(ctx, res)
	o.publish(ctx, events.Event{
		Type:      eventType,
		TenantID:  res.TenantID,
		MessageID: res.MessageID,
		Amount:    o.cfg.Fee,
		Balance:   balance,
		Detail:    detail,
	})
}

// setBilling records res.Status. The ledger is the record of money, so a
// failed status write is logged and does not fail the dispatch.
func (o *Orchestrator) setBilling(ctx context.Context, res *Result) {
	if o.messages == nil {
		return
	}
	dctx, cancel := o.detached(ctx)
	defer cancel()
	if err := o.messages.SetBilling(dctx, res.MessageID, res.TenantID, res.Status, res.FeeCharged); err != nil {
		o.logger.WithError(err).WithFields(logging.Fields{
			"tenant_id":      res.TenantID,
			"message_id":     res.MessageID,
			"billing_status": res.Status,
		}).Error("Failed to record billing status")
	}
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	dctx, cancel := o.detached(ctx)
	defer cancel()
	_ = o.publisher.Publish(dctx, evt)
}

// checkLowBalance publishes wallet.low_balance when this debit took the
// balance across the wallet's threshold.
func (o *Orchestrator) checkLowBalance(ctx context.Context, debit *ledger.Transaction) {
	w, err := o.ledger.Wallet(ctx, debit.TenantID)
	if err != nil {
		return
	}
	threshold := w.LowBalanceThreshold
	if debit.BalanceBefore.GreaterThanOrEqual(threshold) && debit.BalanceAfter.LessThan(threshold) {
		o.logger.WithFields(logging.Fields{
			"tenant_id": debit.TenantID,
			"balance":   debit.BalanceAfter.String(),
			"threshold": threshold.String(),
		}).Warn("Wallet balance below threshold")
		o.publish(ctx, events.Event{
			Type:     events.TypeWalletLowBal,
			TenantID: debit.TenantID,
			Amount:   threshold,
			Balance:  debit.BalanceAfter,
		})
	}
}
