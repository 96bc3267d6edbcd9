package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kimi/internal/models/request_models"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

type DisputeController struct {
	disputeService services.DisputeServiceInterface
}

func NewDisputeController(disputeService services.DisputeServiceInterface) *DisputeController {
	return &DisputeController{disputeService: disputeService}
}

// OpenDispute godoc
// @Summary Open a dispute on a funded or delivered transaction
// @Description Freezes the escrow balance until an arbitre resolves the dispute.
// @Tags Disputes
// @Accept json
// @Param request body request_models.OpenDisputeRequest true "Dispute"
// @Success 201 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes [post]
func (d *DisputeController) OpenDispute(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}

	var req request_models.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	dispute, err := d.disputeService.Open(c.Request.Context(), userID, role, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, dispute, "Dispute opened")
}

// ListDisputes godoc
// @Summary Disputes visible to the caller
// @Tags Disputes
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Param status query string false "Status filter"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes [get]
func (d *DisputeController) ListDisputes(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}

	var q request_models.ListDisputesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	list, err := d.disputeService.List(c.Request.Context(), userID, role, q)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, list, "Disputes fetched successfully")
}

// GetDispute godoc
// @Summary Dispute detail with the comments visible to the caller
// @Tags Disputes
// @Param id path string true "Dispute ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id} [get]
func (d *DisputeController) GetDispute(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dispute, err := d.disputeService.Get(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Dispute fetched successfully")
}

// Assign godoc
// @Summary Assign an arbitre
// @Tags Disputes
// @Accept json
// @Param id path string true "Dispute ID"
// @Param request body request_models.AssignDisputeRequest true "Arbitre"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/assign [post]
func (d *DisputeController) Assign(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.AssignDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	dispute, err := d.disputeService.Assign(c.Request.Context(), id, userID, role, req.ArbitreID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Arbitre assigned")
}

// Review godoc
// @Summary Start reviewing an assigned dispute
// @Tags Disputes
// @Param id path string true "Dispute ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/review [post]
func (d *DisputeController) Review(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dispute, err := d.disputeService.Review(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Review started")
}

// Escalate godoc
// @Summary Escalate a dispute to an administrator
// @Tags Disputes
// @Accept json
// @Param id path string true "Dispute ID"
// @Param request body request_models.EscalateDisputeRequest true "Reason"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/escalate [post]
func (d *DisputeController) Escalate(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.EscalateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	dispute, err := d.disputeService.Escalate(c.Request.Context(), id, userID, role, req.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Dispute escalated")
}

// Resolve godoc
// @Summary Resolve a dispute and settle the escrow
// @Description The verdict is applied to the money before the dispute is marked RESOLVED.
// @Description A 202 means the provider has not confirmed yet and the settlement is retried.
// @Tags Disputes
// @Accept json
// @Param id path string true "Dispute ID"
// @Param request body request_models.ResolveDisputeRequest true "Verdict"
// @Success 200 {object} utils.APIResponse
// @Success 202 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/resolve [post]
func (d *DisputeController) Resolve(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	dispute, err := d.disputeService.Resolve(c.Request.Context(), id, userID, role, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Dispute resolved")
}

// Close godoc
// @Summary Close a resolved dispute
// @Tags Disputes
// @Param id path string true "Dispute ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/close [post]
func (d *DisputeController) Close(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dispute, err := d.disputeService.Close(c.Request.Context(), id, userID, role)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, dispute, "Dispute closed")
}

// Comment godoc
// @Summary Comment on a dispute
// @Description Internal comments are restricted to arbitres and administrators.
// @Tags Disputes
// @Accept json
// @Param id path string true "Dispute ID"
// @Param request body request_models.DisputeCommentRequest true "Comment"
// @Success 201 {object} utils.APIResponse
// @Security BearerAuth
// @Router /disputes/{id}/comments [post]
func (d *DisputeController) Comment(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req request_models.DisputeCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	comment, err := d.disputeService.Comment(c.Request.Context(), id, userID, role, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, comment, "Comment added")
}
