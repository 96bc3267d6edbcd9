package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kimi/internal/models/request_models"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

type AccountController struct {
	accountService services.AccountServiceInterface
}

func NewAccountController(accountService services.AccountServiceInterface) *AccountController {
	return &AccountController{
		accountService: accountService,
	}
}

// Register godoc
// @Summary Register a new account
// @Description Create a buyer or seller account. Phone numbers are normalised to +237.
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.SignUpRequest true "Account registration payload"
// @Success 201 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Router /accounts/register [post]
func (a *AccountController) Register(c *gin.Context) {
	var req request_models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	account, err := a.accountService.CreateAccount(c.Request.Context(), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	profile, err := a.accountService.GetProfile(c.Request.Context(), account.ID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccessWithStatus(c, http.StatusCreated, profile, "Account created successfully")
}

// Login godoc
// @Summary Login to an account
// @Description Authenticate a user and return a bearer token
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.LoginRequest true "Login payload"
// @Success 200 {object} utils.APIResponse
// @Failure 401 {object} utils.APIResponse
// @Router /accounts/login [post]
func (a *AccountController) Login(c *gin.Context) {
	var req request_models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	token, err := a.accountService.Login(req, c.Request.Context())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, token, "Login successful")
}

// Profile godoc
// @Summary Current account
// @Tags Accounts
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /accounts/me [get]
func (a *AccountController) Profile(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := a.accountService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, profile, "Profile fetched successfully")
}

// SubmitKYC godoc
// @Summary Submit identity documents
// @Description Sends the document references to the identity provider and stores the verdict
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.SubmitKYCRequest true "KYC documents"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /accounts/kyc [post]
func (a *AccountController) SubmitKYC(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req request_models.SubmitKYCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	result, err := a.accountService.SubmitKYC(c.Request.Context(), userID, req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, result, "KYC submitted")
}

// ForgotPassword godoc
// @Summary Request a password reset
// @Description Sends a password reset link to the provided email if it exists
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.RequestForgotPassword true "Forgot password payload"
// @Success 200 {object} utils.APIResponse
// @Router /accounts/password/reset [post]
func (a *AccountController) ForgotPassword(c *gin.Context) {
	var req request_models.RequestForgotPassword
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := a.accountService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, nil, "If the email exists, a reset link has been sent")
}

// ResetPassword godoc
// @Summary Reset password with a token
// @Description Sets a new password using the single-use token from the reset mail
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.ResetPasswordRequest true "Password reset payload"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /accounts/password/reset/confirm [post]
func (a *AccountController) ResetPassword(c *gin.Context) {
	var req request_models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := a.accountService.ResetPassword(c.Request.Context(), req); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, nil, "Password has been reset successfully")
}

// ChangePassword godoc
// @Summary Change password
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.ChangePasswordRequest true "Password change payload"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Security BearerAuth
// @Router /accounts/password/change [post]
func (a *AccountController) ChangePassword(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req request_models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := a.accountService.ChangePassword(c.Request.Context(), userID, req); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, nil, "Password changed successfully")
}
