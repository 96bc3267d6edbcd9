package controllers_fx

import (
	"go.uber.org/fx"

	"kimi/internal/api"
	"kimi/internal/api/controllers"
	"kimi/internal/config"
	"kimi/internal/services"
)

var Module = fx.Options(
	fx.Provide(controllers.NewAccountController),
	fx.Provide(controllers.NewTransactionController),
	fx.Provide(controllers.NewMilestoneController),
	fx.Provide(controllers.NewDisputeController),
	fx.Provide(providePaymentController),
	fx.Provide(provideHandlers))

func providePaymentController(cfg *config.Config, paymentService services.PaymentServiceInterface) *controllers.PaymentController {
	return controllers.NewPaymentController(paymentService, cfg.MobileMoneyWebhookSecret)
}

func provideHandlers(
	accounts *controllers.AccountController,
	transactions *controllers.TransactionController,
	milestones *controllers.MilestoneController,
	disputes *controllers.DisputeController,
	payments *controllers.PaymentController,
) api.Handlers {
	return api.Handlers{
		Accounts:     accounts,
		Transactions: transactions,
		Milestones:   milestones,
		Disputes:     disputes,
		Payments:     payments,
	}
}
