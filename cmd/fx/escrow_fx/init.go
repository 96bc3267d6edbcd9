package escrow_fx

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"kimi/internal/config"
	"kimi/internal/gateway"
	"kimi/internal/lifecycle"
	"kimi/internal/repositories"
	"kimi/internal/services"
)

var Module = fx.Provide(
	providePaymentService, provideEscrowService, provideMilestoneService, provideDisputeService,
	func(s *services.PaymentService) services.PaymentServiceInterface { return s },
	func(s *services.EscrowService) services.EscrowServiceInterface { return s },
	func(s *services.MilestoneService) services.MilestoneServiceInterface { return s },
	func(s *services.DisputeService) services.DisputeServiceInterface { return s },
)

func providePaymentService(cfg *config.Config, db *gorm.DB, repos repositories.Set, gw gateway.Gateway, machine *lifecycle.Machine, notifier services.Notifier) *services.PaymentService {
	return services.NewPaymentService(db, repos, gw, machine, notifier, cfg.Retry)
}

func provideEscrowService(db *gorm.DB, repos repositories.Set, machine *lifecycle.Machine, payments *services.PaymentService, notifier services.Notifier) *services.EscrowService {
	return services.NewEscrowService(db, repos, machine, payments, notifier)
}

func provideMilestoneService(db *gorm.DB, repos repositories.Set, escrow *services.EscrowService, payments *services.PaymentService, notifier services.Notifier) *services.MilestoneService {
	return services.NewMilestoneService(db, repos, escrow, payments, notifier)
}

func provideDisputeService(db *gorm.DB, repos repositories.Set, machine *lifecycle.Machine, payments *services.PaymentService) *services.DisputeService {
	return services.NewDisputeService(db, repos, machine, payments)
}
