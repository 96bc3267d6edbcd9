package scheduler_fx

import (
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/repositories"
	"kimi/internal/services"
	mem "kimi/pkg/memcache"
)

var Module = fx.Provide(provideScheduler)

func provideScheduler(cfg *config.Config, repos repositories.Set, payments *services.PaymentService, leases mem.LeaseStore, notifier services.Notifier) *services.Scheduler {
	return services.NewScheduler(repos, payments, leases, notifier, services.SchedulerConfig{
		SweepInterval:    cfg.SweepInterval,
		ReminderInterval: cfg.ReminderInterval,
	})
}
