package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kimi/internal/models/request_models"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

type TransactionController struct {
	escrowService    services.EscrowServiceInterface
	milestoneService services.MilestoneServiceInterface
	paymentService   services.PaymentServiceInterface
}

func NewTransactionController(
	escrowService services.EscrowServiceInterface,
	milestoneService services.MilestoneServiceInterface,
	paymentService services.PaymentServiceInterface,
) *TransactionController {
	return &TransactionController{
		escrowService:    escrowService,
		milestoneService: milestoneService,
		paymentService:   paymentService,
	}
}

// CreateTransaction godoc
// @Summary Create an escrow transaction
// @Description The caller becomes the buyer. Milestone percentages must sum to 100.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param request body request_models.CreateTransactionRequest true "Transaction payload"
// @Success 201 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions [post]
func (t *TransactionController) CreateTransaction(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req request_models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	txn, err := t.escrowService.Create(c.Request.Context(), userID, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, txn, "Transaction created successfully")
}

// ListTransactions godoc
// @Summary List own transactions
// @Tags Transactions
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20) minimum(1) maximum(100)
// @Param status query string false "Status filter"
// @Param role query string false "buyer or seller"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions [get]
func (t *TransactionController) ListTransactions(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var q request_models.ListTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	list, err := t.escrowService.List(c.Request.Context(), userID, q)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, list, "Transactions fetched successfully")
}

// Stats godoc
// @Summary Buying and selling statistics of the caller
// @Tags Transactions
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/stats [get]
func (t *TransactionController) Stats(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := t.escrowService.Stats(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, stats, "Statistics fetched successfully")
}

// GetTransaction godoc
// @Summary Transaction detail
// @Tags Transactions
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id} [get]
func (t *TransactionController) GetTransaction(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := t.escrowService.Get(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, txn, "Transaction fetched successfully")
}

// Pay godoc
// @Summary Start collecting the transaction total from the buyer
// @Description Repeating a request with the same Idempotency-Key returns the stored payment.
// @Tags Transactions
// @Accept json
// @Param id path string true "Transaction ID"
// @Param Idempotency-Key header string false "Client key, becomes the payment reference"
// @Param request body request_models.StartPaymentRequest false "Payer phone number"
// @Success 200 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/pay [post]
func (t *TransactionController) Pay(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.StartPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	resp, err := t.paymentService.StartCollection(c.Request.Context(), id, userID, c.GetHeader("Idempotency-Key"), req.PhoneNumber)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	message := "Payment started"
	if resp.Replayed {
		message = "Payment already processed"
	}
	utils.RespondSuccess(c, resp, message)
}

// PerformAction godoc
// @Summary Apply a lifecycle action
// @Description cancel, mark_delivered, confirm_delivery or request_release
// @Tags Transactions
// @Accept json
// @Param id path string true "Transaction ID"
// @Param request body request_models.TransactionActionRequest true "Action"
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/actions [post]
func (t *TransactionController) PerformAction(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.TransactionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	txn, err := t.escrowService.PerformAction(c.Request.Context(), id, userID, role, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, txn, "Action applied")
}

// ListMessages godoc
// @Summary Messages exchanged on a transaction
// @Tags Transactions
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/messages [get]
func (t *TransactionController) ListMessages(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := t.escrowService.Messages(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, messages, "Messages fetched successfully")
}

// PostMessage godoc
// @Summary Post a message to the other party
// @Tags Transactions
// @Accept json
// @Param id path string true "Transaction ID"
// @Param request body request_models.PostMessageRequest true "Message"
// @Success 201 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/messages [post]
func (t *TransactionController) PostMessage(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	msg, err := t.escrowService.PostMessage(c.Request.Context(), id, userID, role, req.Body)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, msg, "Message posted")
}

// Rate godoc
// @Summary Rate the other party of a released transaction
// @Tags Transactions
// @Accept json
// @Param id path string true "Transaction ID"
// @Param request body request_models.RateTransactionRequest true "Rating"
// @Success 201 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/ratings [post]
func (t *TransactionController) Rate(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.RateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	rating, err := t.escrowService.Rate(c.Request.Context(), id, userID, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, rating, "Rating saved")
}

// ListMilestones godoc
// @Summary Milestones of a transaction
// @Tags Milestones
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/milestones [get]
func (t *TransactionController) ListMilestones(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	items, err := t.milestoneService.List(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, items, "Milestones fetched successfully")
}

// EscrowAccount godoc
// @Summary Escrow account backing a transaction
// @Tags Transactions
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/escrow-account [get]
func (t *TransactionController) EscrowAccount(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	acc, err := t.escrowService.EscrowAccount(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, acc, "Escrow account fetched successfully")
}

// History godoc
// @Summary Audit trail of a transaction
// @Tags Transactions
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /transactions/{id}/history [get]
func (t *TransactionController) History(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := t.escrowService.History(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, entries, "History fetched successfully")
}
