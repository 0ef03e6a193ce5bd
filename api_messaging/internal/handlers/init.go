package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"frameworks/api_messaging/internal/channels"
	"frameworks/api_messaging/internal/dispatch"
	"frameworks/api_messaging/internal/events"
	"frameworks/api_messaging/internal/inbound"
	"frameworks/api_messaging/internal/ledger"
	"frameworks/pkg/logging"
	"frameworks/pkg/middleware"
	"frameworks/pkg/pagination"
)

var (
	ledgerStore  ledger.Store
	registry     channels.Registry
	orchestrator *dispatch.Orchestrator
	router       *inbound.Router
	publisher    events.Publisher
	logger       logging.Logger

	webhookSecret      string
	webhookVerifyToken string
)

// Dependencies are the collaborators the HTTP surface drives.
type Dependencies struct {
	Ledger       ledger.Store
	Channels     channels.Registry
	Orchestrator *dispatch.Orchestrator
	Router       *inbound.Router
	Publisher    events.Publisher
	Logger       logging.Logger

	// WebhookSecret is the app secret for X-Hub-Signature-256. Empty skips verification.
	WebhookSecret string
	// WebhookVerifyToken answers the provider's subscription handshake.
	WebhookVerifyToken string
}

// Init wires the package-level dependencies used by every handler.
func Init(deps Dependencies) {
	ledgerStore = deps.Ledger
	registry = deps.Channels
	orchestrator = deps.Orchestrator
	router = deps.Router
	publisher = deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	logger = deps.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	webhookSecret = deps.WebhookSecret
	webhookVerifyToken = deps.WebhookVerifyToken
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error  string `json:"error"`
	Result any    `json:"result,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsUnfunded(err):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, channels.ErrNotFound),
		errors.Is(err, dispatch.ErrNoChannel):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateReference),
		errors.Is(err, channels.ErrDuplicateRoutingKey),
		errors.Is(err, dispatch.ErrAlreadyDispatched):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTenant),
		errors.Is(err, channels.ErrInvalidChannel),
		errors.Is(err, channels.ErrInvalidStatus),
		errors.Is(err, dispatch.ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrSendFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Internal errors are
// logged and their text withheld.
func respondError(c *gin.Context, err error, result any) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		middleware.GetContextLogger(c, logger).WithError(err).Error("Request failed")
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: msg, Result: result})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
