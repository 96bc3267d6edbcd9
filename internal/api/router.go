package api

import (
	"github.com/gin-gonic/gin"

	"kimi/internal/api/controllers"
	"kimi/pkg/middleware"
	"kimi/pkg/utils"
)

type Handlers struct {
	Accounts     *controllers.AccountController
	Transactions *controllers.TransactionController
	Milestones   *controllers.MilestoneController
	Disputes     *controllers.DisputeController
	Payments     *controllers.PaymentController
}

func NewRouter(tokens *utils.TokenManager, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORSMiddleware())

	RegisterRoutes(r, tokens, h)

	return r
}

func RegisterRoutes(r *gin.Engine, tokens *utils.TokenManager, h Handlers) {
	auth := middleware.JWTAuthMiddleware(tokens)

	accountGroup := r.Group("/accounts")
	accountGroup.POST("/register", h.Accounts.Register)
	accountGroup.POST("/login", h.Accounts.Login)
	accountGroup.GET("/me", auth, h.Accounts.Profile)
	accountGroup.POST("/kyc", auth, h.Accounts.SubmitKYC)
	accountGroup.POST("/password/reset", h.Accounts.ForgotPassword)
	accountGroup.POST("/password/reset/confirm", h.Accounts.ResetPassword)
	accountGroup.POST("/password/change", auth, h.Accounts.ChangePassword)

	webhookGroup := r.Group("/webhooks")
	webhookGroup.POST("/payos", h.Payments.HandlePayOSWebhook)
	webhookGroup.POST("/mobile-money", h.Payments.HandleMobileMoneyWebhook)

	txnGroup := r.Group("/transactions", auth)
	txnGroup.POST("", h.Transactions.CreateTransaction)
	txnGroup.GET("", h.Transactions.ListTransactions)
	txnGroup.GET("/stats", h.Transactions.Stats)
	txnGroup.GET("/:id", h.Transactions.GetTransaction)
	txnGroup.POST("/:id/pay", h.Transactions.Pay)
	txnGroup.POST("/:id/actions", h.Transactions.PerformAction)
	txnGroup.GET("/:id/messages", h.Transactions.ListMessages)
	txnGroup.POST("/:id/messages", h.Transactions.PostMessage)
	txnGroup.POST("/:id/ratings", h.Transactions.Rate)
	txnGroup.GET("/:id/milestones", h.Transactions.ListMilestones)
	txnGroup.GET("/:id/escrow-account", h.Transactions.EscrowAccount)
	txnGroup.GET("/:id/history", h.Transactions.History)

	milestoneGroup := r.Group("/milestones", auth)
	milestoneGroup.POST("/:id/:action", h.Milestones.Act)

	disputeGroup := r.Group("/disputes", auth)
	disputeGroup.POST("", h.Disputes.OpenDispute)
	disputeGroup.GET("", h.Disputes.ListDisputes)
	disputeGroup.GET("/:id", h.Disputes.GetDispute)
	disputeGroup.POST("/:id/assign", middleware.RoleMiddleware("ADMIN"), h.Disputes.Assign)
	disputeGroup.POST("/:id/review", middleware.RoleMiddleware("ARBITRE", "ADMIN"), h.Disputes.Review)
	disputeGroup.POST("/:id/escalate", middleware.RoleMiddleware("ARBITRE"), h.Disputes.Escalate)
	disputeGroup.POST("/:id/resolve", middleware.RoleMiddleware("ARBITRE", "ADMIN"), h.Disputes.Resolve)
	disputeGroup.POST("/:id/close", middleware.RoleMiddleware("ADMIN"), h.Disputes.Close)
	disputeGroup.POST("/:id/comments", h.Disputes.Comment)

	paymentGroup := r.Group("/payments", auth)
	paymentGroup.GET("", h.Payments.ListPayments)
	paymentGroup.GET("/:reference", h.Payments.GetPayment)
}
