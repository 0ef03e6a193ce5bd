package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"frameworks/api_messaging/internal/events"
	"frameworks/api_messaging/internal/ledger"
	"frameworks/pkg/billing"
	"frameworks/pkg/logging"
	"frameworks/pkg/pagination"
)

// WalletResponse is a wallet plus its derived low-balance flag.
type WalletResponse struct {
	*ledger.Wallet
	LowBalance bool `json:"low_balance"`
}

func walletResponse(w *ledger.Wallet) WalletResponse {
	return WalletResponse{Wallet: w, LowBalance: w.IsLowBalance()}
}

type createWalletRequest struct {
	TenantID            string `json:"tenant_id" binding:"required"`
	Currency            string `json:"currency"`
	LowBalanceThreshold string `json:"low_balance_threshold"`
}

// CreateWallet handles POST /wallets. Creating an existing wallet returns it unchanged.
func CreateWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "tenant_id is required")
		return
	}
	threshold := decimal.Zero
	if req.LowBalanceThreshold != "" {
		t, err := billing.ParseAmount(req.LowBalanceThreshold)
		if err != nil || t.IsNegative() {
			badRequest(c, "invalid low_balance_threshold")
			return
		}
		threshold = t
	}

	w, err := ledgerStore.CreateWallet(c.Request.Context(), req.TenantID, billing.NormalizeCurrency(req.Currency), threshold)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, walletResponse(w))
}

// GetWallet handles GET /wallets/:tenant_id.
func GetWallet(c *gin.Context) {
	w, err := ledgerStore.Wallet(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, walletResponse(w))
}

type rechargeRequest struct {
	Amount           string `json:"amount" binding:"required"`
	PaymentReference string `json:"payment_reference"`
}

// Recharge handles POST /wallets/:tenant_id/recharge. A repeated
// payment_reference returns the original credit.
func Recharge(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}
	amount, err := billing.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	tx, err := ledgerStore.Credit(c.Request.Context(), tenantID, amount, ledger.ReasonRecharge, req.PaymentReference)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	log := logger.WithFields(logging.Fields{
		"tenant_id":         tenantID,
		"amount":            tx.Amount.String(),
		"balance":           tx.BalanceAfter.String(),
		"payment_reference": req.PaymentReference,
	})
	if tx.Replayed {
		log.Info("Recharge already recorded")
		c.JSON(http.StatusOK, tx)
		return
	}
	log.Info("Wallet recharged")
	if err := publisher.Publish(c.Request.Context(), events.Event{
		Type:     events.TypeWalletRecharged,
		TenantID: tenantID,
		Amount:   tx.Amount,
		Balance:  tx.BalanceAfter,
		Detail:   req.PaymentReference,
	}); err != nil {
		logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to publish recharge event")
	}
	c.JSON(http.StatusOK, tx)
}

type lockRequest struct {
	Locked *bool `json:"locked" binding:"required"`
}

// SetLock handles PUT /wallets/:tenant_id/lock.
func SetLock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "locked is required")
		return
	}
	w, err := ledgerStore.SetLocked(c.Request.Context(), c.Param("tenant_id"), *req.Locked)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	logger.WithFields(logging.Fields{"tenant_id": w.TenantID, "locked": w.Locked}).Info("Wallet lock changed")
	c.JSON(http.StatusOK, walletResponse(w))
}

// ListTransactions handles GET /wallets/:tenant_id/transactions?limit=&before=.
func ListTransactions(c *gin.Context) {
	limit := pagination.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	page, err := ledgerStore.History(c.Request.Context(), c.Param("tenant_id"), pagination.ClampLimit(limit), c.Query("before"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	if page.Transactions == nil {
		page.Transactions = []ledger.Transaction{}
	}
	c.JSON(http.StatusOK, page)
}

// AuditWallet handles GET /wallets/:tenant_id/audit. An inconsistent ledger
// is reported with 409 and the report body.
func AuditWallet(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	report, err := ledger.Audit(c.Request.Context(), ledgerStore, tenantID)
	if errors.Is(err, ledger.ErrAuditMismatch) {
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Ledger audit mismatch")
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Result: report})
		return
	}
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}
