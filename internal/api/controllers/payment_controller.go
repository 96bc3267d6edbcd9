package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"

	"kimi/internal/gateway"
	"kimi/internal/models/request_models"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

var webhookLog = logging.Logger("webhook")

const maxWebhookBody = 1 << 20

type PaymentController struct {
	paymentService    services.PaymentServiceInterface
	mobileMoneySecret string
}

func NewPaymentController(paymentService services.PaymentServiceInterface, mobileMoneySecret string) *PaymentController {
	return &PaymentController{
		paymentService:    paymentService,
		mobileMoneySecret: mobileMoneySecret,
	}
}

// ListPayments godoc
// @Summary Payments made to or by the caller
// @Tags Payments
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments [get]
func (p *PaymentController) ListPayments(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var q request_models.ListPaymentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	list, err := p.paymentService.ListPayments(c.Request.Context(), userID, q.Page, q.PageSize)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, list, "Payments fetched successfully")
}

// GetPayment godoc
// @Summary Payment by reference
// @Tags Payments
// @Param reference path string true "Payment reference"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/{reference} [get]
func (p *PaymentController) GetPayment(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}

	payment, err := p.paymentService.GetPayment(c.Request.Context(), c.Param("reference"), userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, payment, "Payment fetched successfully")
}

// HandlePayOSWebhook godoc
// @Summary payOS payment notification
// @Description Verified with the payOS checksum key. Replays are acknowledged without effect.
// @Tags Webhooks
// @Accept json
// @Success 200 {object} utils.APIResponse
// @Failure 401 {object} utils.APIResponse
// @Router /webhooks/payos [post]
func (p *PaymentController) HandlePayOSWebhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	cb, err := gateway.ParsePayOS(body)
	if err != nil {
		p.rejectWebhook(c, "payos", err)
		return
	}

	p.handleCallback(c, cb, body)
}

// HandleMobileMoneyWebhook godoc
// @Summary Mobile money notification
// @Description Signed with HMAC-SHA256 over the raw body in the X-Signature header.
// @Tags Webhooks
// @Accept json
// @Param X-Signature header string true "Hex HMAC-SHA256 of the body"
// @Success 200 {object} utils.APIResponse
// @Failure 401 {object} utils.APIResponse
// @Router /webhooks/mobile-money [post]
func (p *PaymentController) HandleMobileMoneyWebhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	cb, err := gateway.ParseMobileMoney(p.mobileMoneySecret, body, c.GetHeader("X-Signature"))
	if err != nil {
		p.rejectWebhook(c, "mobile_money", err)
		return
	}

	p.handleCallback(c, cb, body)
}

func (p *PaymentController) handleCallback(c *gin.Context, cb gateway.Callback, body []byte) {
	if err := p.paymentService.HandleCallback(c.Request.Context(), cb, body); err != nil {
		webhookLog.Errorw("webhook processing failed", "provider", cb.Provider, "webhook_id", cb.WebhookID, "err", err)
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, nil, "Webhook processed")
}

func (p *PaymentController) rejectWebhook(c *gin.Context, provider string, err error) {
	webhookLog.Warnw("webhook rejected", "provider", provider, "err", err)
	if errors.Is(err, gateway.ErrInvalidSignature) {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}
	utils.RespondError(c, http.StatusBadRequest, "Invalid webhook payload")
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		utils.RespondError(c, http.StatusBadRequest, "Invalid webhook payload")
		return nil, false
	}
	return body, true
}
