package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frameworks/api_messaging/internal/channels"
	"frameworks/api_messaging/internal/classify"
	"frameworks/api_messaging/internal/events"
	"frameworks/api_messaging/internal/ledger"
	"frameworks/api_messaging/internal/messages"
	"frameworks/api_messaging/internal/transport"
	"frameworks/pkg/logging"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t        *testing.T
	ledger   *ledger.MemoryStore
	channels *channels.MemoryRegistry
	messages *messages.MemoryStore
	events   *events.Recorder
	sends    atomic.Int32
}

func newFixture(t *testing.T, balance string, connected bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		t:        t,
		ledger:   ledger.NewMemoryStore(),
		channels: channels.NewMemoryRegistry(),
		messages: messages.NewMemoryStore(),
		events:   &events.Recorder{},
	}
	_, err := f.ledger.CreateWallet(ctx, "t1", "EUR", decimal.Zero)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		_, err = f.ledger.Credit(ctx, "t1", b, ledger.ReasonRecharge, "seed")
		require.NoError(t, err)
	}
	if connected {
		_, err = f.channels.Register(ctx, channels.Channel{
			TenantID:   "t1",
			Platform:   "whatsapp",
			RoutingKey: "pn-1",
			Status:     channels.StatusConnected,
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) orchestrator(sender func(context.Context, *channels.Channel, transport.Message) (*transport.Receipt, error), cfg Config) *Orchestrator {
	wrapped := transport.SenderFunc(func(ctx context.Context, ch *channels.Channel, msg transport.Message) (*transport.Receipt, error) {
		f.sends.Add(1)
		return sender(ctx, ch, msg)
	})
	o, err := New(Deps{
		Ledger:    f.ledger,
		Channels:  f.channels,
		Sender:    wrapped,
		Messages:  f.messages,
		Publisher: f.events,
		Logger:    logging.NewTestLogger(),
	}, cfg)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), "t1")
	require.NoError(t, err)
	return b
}

func (f *fixture) status(t *testing.T, msgID string) messages.BillingStatus {
	t.Helper()
	out, err := f.messages.Outbound(context.Background(), msgID)
	require.NoError(t, err)
	return out.BillingStatus
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	cfg.SendTimeout = time.Second
	return cfg
}

func ok(context.Context, *channels.Channel, transport.Message) (*transport.Receipt, error) {
	return &transport.Receipt{ProviderMessageID: "wamid.1"}, nil
}

func failWith(err error) func(context.Context, *channels.Channel, transport.Message) (*transport.Receipt, error) {
	return func(context.Context, *channels.Channel, transport.Message) (*transport.Receipt, error) {
		return nil, err
	}
}

func request(id string) Request {
	return Request{MessageID: id, TenantID: "t1", Recipient: "+34600000000", Body: "hola"}
}

func TestDispatch_SuccessCharges(t *testing.T) {
	f := newFixture(t, "500.00", true)
	o := f.orchestrator(ok, testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.NoError(t, err)

	assert.Equal(t, messages.BillingCharged, res.Status)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, "wamid.1", res.ProviderMessageID)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.FeeCharged)
	assert.True(t, res.FeeCharged.Equal(dec("0.20")))
	assert.True(t, f.balance(t).Equal(dec("499.80")))
	assert.Equal(t, messages.BillingCharged, f.status(t, "m1"))
	assert.Equal(t, []string{events.TypeMessageCharged}, f.events.Types())
}

func TestDispatch_RefundableFailureRestoresBalance(t *testing.T) {
	f := newFixture(t, "100.00", true)
	o := f.orchestrator(failWith(&transport.SendError{Code: transport.CodeInvalidToken, HTTPStatus: http.StatusUnauthorized, Message: "bad token"}), testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrSendFailed)
	_, isSendErr := transport.AsSendError(err)
	assert.True(t, isSendErr)

	assert.Equal(t, messages.BillingRefunded, res.Status)
	assert.Equal(t, classify.Refundable, res.Classification)
	assert.Equal(t, OutcomeNotCharged, res.Outcome)
	assert.Nil(t, res.FeeCharged)
	assert.Equal(t, int32(1), f.sends.Load(), "refundable failures are not retried")
	assert.True(t, f.balance(t).Equal(dec("100.00")))

	page, err := f.ledger.History(context.Background(), "t1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	assert.Equal(t, ledger.KindCredit, page.Transactions[0].Kind)
	assert.Equal(t, ledger.ReasonRefund, page.Transactions[0].Reason)
	assert.Equal(t, ledger.KindDebit, page.Transactions[1].Kind)
	assert.Equal(t, "m1", page.Transactions[1].Reference)

	report, err := ledger.Audit(context.Background(), f.ledger, "t1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, []string{events.TypeMessageRefunded}, f.events.Types())
}

func TestDispatch_InsufficientBalanceNeverSends(t *testing.T) {
	f := newFixture(t, "0.10", true)
	o := f.orchestrator(ok, testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.NotNil(t, res)
	assert.Equal(t, messages.BillingFailedUnbilled, res.Status)
	assert.Equal(t, int32(0), f.sends.Load())
	assert.True(t, f.balance(t).Equal(dec("0.10")))
	assert.Equal(t, messages.BillingFailedUnbilled, f.status(t, "m1"))
	assert.Equal(t, []string{events.TypeMessageUnbilled}, f.events.Types())
}

func TestDispatch_LockedWalletLooksUnfunded(t *testing.T) {
	f := newFixture(t, "100.00", true)
	_, err := f.ledger.SetLocked(context.Background(), "t1", true)
	require.NoError(t, err)
	o := f.orchestrator(ok, testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ledger.ErrWalletLocked)
	assert.Equal(t, messages.BillingFailedUnbilled, res.Status)
	assert.Equal(t, int32(0), f.sends.Load())
}

func TestDispatch_RaceForLastFee(t *testing.T) {
	f := newFixture(t, "0.30", true)
	o := f.orchestrator(ok, testConfig())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"m1", "m2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = o.Dispatch(context.Background(), request(id))
		}()
	}
	wg.Wait()

	succeeded, refused := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)
	assert.Equal(t, int32(1), f.sends.Load())
	assert.True(t, f.balance(t).Equal(dec("0.10")))
}

func TestDispatch_NonRefundableRetainsFee(t *testing.T) {
	f := newFixture(t, "10.00", true)
	o := f.orchestrator(failWith(&transport.SendError{Code: transport.CodeInvalidRecipient, HTTPStatus: http.StatusBadRequest, Message: "no such number"}), testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, messages.BillingFailed, res.Status)
	assert.Equal(t, classify.NonRefundable, res.Classification)
	assert.Equal(t, OutcomeRetained, res.Outcome)
	require.NotNil(t, res.FeeCharged)
	assert.True(t, f.balance(t).Equal(dec("9.80")))
	assert.Equal(t, []string{events.TypeMessageFailed}, f.events.Types())
}

func TestDispatch_RetryThenSucceed(t *testing.T) {
	f := newFixture(t, "10.00", true)
	var calls atomic.Int32
	o := f.orchestrator(func(ctx context.Context, ch *channels.Channel, msg transport.Message) (*transport.Receipt, error) {
		if calls.Add(1) == 1 {
			return nil, &transport.SendError{Code: transport.CodeRateLimited, HTTPStatus: http.StatusTooManyRequests}
		}
		return ok(ctx, ch, msg)
	}, testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, messages.BillingCharged, res.Status)
	assert.True(t, f.balance(t).Equal(dec("9.80")))
}

func TestDispatch_RetryExhaustionRefunds(t *testing.T) {
	f := newFixture(t, "10.00", true)
	cfg := testConfig()
	cfg.MaxRetries = 2
	o := f.orchestrator(failWith(&transport.SendError{HTTPStatus: http.StatusServiceUnavailable, Message: "down"}), cfg)

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), f.sends.Load())
	assert.Equal(t, classify.Retryable, res.Classification)
	assert.Equal(t, messages.BillingRefunded, res.Status)
	assert.True(t, f.balance(t).Equal(dec("10.00")))
}

func TestDispatch_AttemptTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, "10.00", true)
	cfg := testConfig()
	cfg.SendTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	o := f.orchestrator(func(ctx context.Context, _ *channels.Channel, _ transport.Message) (*transport.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, cfg)

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, messages.BillingRefunded, res.Status)
	assert.True(t, f.balance(t).Equal(dec("10.00")))
}

func TestDispatch_NoChannelIsUnbilled(t *testing.T) {
	f := newFixture(t, "10.00", false)
	o := f.orchestrator(ok, testConfig())

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrNoChannel)
	assert.Equal(t, messages.BillingFailedUnbilled, res.Status)
	assert.Equal(t, int32(0), f.sends.Load())
	assert.True(t, f.balance(t).Equal(dec("10.00")))
}

func TestDispatch_DuplicateMessageRejected(t *testing.T) {
	f := newFixture(t, "10.00", true)
	o := f.orchestrator(ok, testConfig())

	_, err := o.Dispatch(context.Background(), request("m1"))
	require.NoError(t, err)

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Nil(t, res)
	assert.Equal(t, int32(1), f.sends.Load())
	assert.True(t, f.balance(t).Equal(dec("9.80")))
}

func TestDispatch_InvalidRequest(t *testing.T) {
	f := newFixture(t, "10.00", true)
	o := f.orchestrator(ok, testConfig())

	_, err := o.Dispatch(context.Background(), Request{TenantID: "t1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.Dispatch(context.Background(), Request{MessageID: "m1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatch_RefundSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, "10.00", true)
	ctx, cancel := context.WithCancel(context.Background())
	o := f.orchestrator(func(context.Context, *channels.Channel, transport.Message) (*transport.Receipt, error) {
		cancel()
		return nil, &transport.SendError{Code: transport.CodeExpiredToken, HTTPStatus: http.StatusUnauthorized}
	}, testConfig())

	res, err := o.Dispatch(ctx, request("m1"))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, messages.BillingRefunded, res.Status)
	assert.True(t, f.balance(t).Equal(dec("10.00")))
	assert.Equal(t, messages.BillingRefunded, f.status(t, "m1"))
}

type failingCredit struct {
	*ledger.MemoryStore
}

func (failingCredit) Credit(context.Context, string, decimal.Decimal, string, string) (*ledger.Transaction, error) {
	return nil, errors.New("database unavailable")
}

func TestDispatch_RefundFailureLeavesPending(t *testing.T) {
	f := newFixture(t, "10.00", true)
	o, err := New(Deps{
		Ledger:    failingCredit{f.ledger},
		Channels:  f.channels,
		Sender:    transport.SenderFunc(failWith(&transport.SendError{Code: transport.CodeForbidden})),
		Messages:  f.messages,
		Publisher: f.events,
		Logger:    logging.NewTestLogger(),
	}, testConfig())
	require.NoError(t, err)

	res, err := o.Dispatch(context.Background(), request("m1"))
	require.ErrorIs(t, err, ErrRefundFailed)
	assert.Equal(t, messages.BillingPending, res.Status)
	require.NotNil(t, res.FeeCharged)
	assert.True(t, f.balance(t).Equal(dec("9.80")))

	out, err := f.messages.Outbound(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, messages.BillingPending, out.BillingStatus)
	require.NotNil(t, out.ServiceFeeCharged)
	assert.True(t, out.ServiceFeeCharged.Equal(dec("0.20")))
}

func TestDispatch_LowBalanceEventOnCrossing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "0", true)
	// Replace the wallet with one that has a threshold.
	f.ledger = ledger.NewMemoryStore()
	_, err := f.ledger.CreateWallet(ctx, "t1", "EUR", dec("5"))
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, "t1", dec("5.10"), ledger.ReasonRecharge, "seed")
	require.NoError(t, err)
	o := f.orchestrator(ok, testConfig())

	_, err = o.Dispatch(ctx, request("m1"))
	require.NoError(t, err)
	_, err = o.Dispatch(ctx, request("m2"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeWalletLowBal,
		events.TypeMessageCharged,
		events.TypeMessageCharged,
	}, f.events.Types())
}

func TestNew_AppliesDefaults(t *testing.T) {
	o, err := New(Deps{}, Config{MaxRetries: -1})
	require.NoError(t, err)
	assert.True(t, o.Fee().Equal(dec("0.20")))
	assert.Equal(t, 0, o.cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, o.cfg.SendTimeout)
}

func TestNew_RejectsOverPreciseFee(t *testing.T) {
	cfg := testConfig()
	cfg.Fee = dec("0.12345")
	_, err := New(Deps{}, cfg)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	cfg.Fee = dec("0.1234")
	o, err := New(Deps{}, cfg)
	require.NoError(t, err)
	assert.True(t, o.Fee().Equal(dec("0.1234")))
}

func TestDispatch_SendErrorText(t *testing.T) {
	f := newFixture(t, "10.00", true)
	o := f.orchestrator(failWith(&transport.SendError{Code: transport.CodeInvalidToken, HTTPStatus: http.StatusUnauthorized}), testConfig())

	_, err := o.Dispatch(context.Background(), request("m1"))
	require.Error(t, err)
	assert.Equal(t, "send failed: invalid_token (HTTP 401)", err.Error())
}

// A recharge whose payment reference equals a message id must not swallow
// that message's refund.
func TestDispatch_RefundNotShadowedByRechargeReference(t *testing.T) {
	f := newFixture(t, "100.00", true)
	_, err := f.ledger.Credit(context.Background(), "t1", dec("50"), ledger.ReasonRecharge, "m-1")
	require.NoError(t, err)
	o := f.orchestrator(failWith(&transport.SendError{Code: transport.CodeInvalidToken, HTTPStatus: http.StatusUnauthorized}), testConfig())

	res, err := o.Dispatch(context.Background(), request("m-1"))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, messages.BillingRefunded, res.Status)
	assert.True(t, f.balance(t).Equal(dec("150.00")), "balance %s", f.balance(t))

	report, err := ledger.Audit(context.Background(), f.ledger, "t1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}
