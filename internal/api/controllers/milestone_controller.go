package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kimi/internal/lifecycle"
	"kimi/internal/models/request_models"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

type MilestoneController struct {
	milestoneService services.MilestoneServiceInterface
}

func NewMilestoneController(milestoneService services.MilestoneServiceInterface) *MilestoneController {
	return &MilestoneController{milestoneService: milestoneService}
}

// Act godoc
// @Summary Move a milestone forward
// @Description start and complete are seller actions; approve and reject belong to the buyer,
// @Description or to the assigned arbitre while the transaction is disputed. Approval pays the seller.
// @Tags Milestones
// @Accept json
// @Param id path string true "Milestone ID"
// @Param action path string true "start, complete, approve or reject"
// @Param request body request_models.MilestoneActionRequest false "Completion note or rejection reason"
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /milestones/{id}/{action} [post]
func (m *MilestoneController) Act(c *gin.Context) {
	userID, role, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	action := lifecycle.MilestoneAction(c.Param("action"))
	switch action {
	case lifecycle.MilestoneStart, lifecycle.MilestoneComplete, lifecycle.MilestoneApprove, lifecycle.MilestoneReject:
	default:
		utils.RespondError(c, http.StatusNotFound, "Unknown milestone action")
		return
	}

	var req request_models.MilestoneActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	ms, err := m.milestoneService.ActOn(c.Request.Context(), id, userID, role, action, req.Note)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, ms, "Milestone updated")
}
