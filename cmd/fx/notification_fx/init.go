package notification_fx

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/infra"
	"kimi/internal/repositories"
	"kimi/internal/services"
)

var log = logging.Logger("notify")

var Module = fx.Provide(
	provideEventPublisher, provideNotificationService, provideNotifier)

func provideEventPublisher(lc fx.Lifecycle, cfg *config.Config) (services.EventPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("KAFKA_BROKERS not set, events are not published")
		return nil, nil
	}
	publisher, err := infra.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func provideNotificationService(
	lc fx.Lifecycle,
	accounts repositories.AccountRepository,
	mail services.IMailService,
	publisher services.EventPublisher,
) (*services.NotificationService, error) {
	catalog, err := services.LoadTemplateCatalog()
	if err != nil {
		return nil, err
	}
	n := services.NewNotificationService(accounts, mail, publisher, catalog, 1024)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			n.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			n.Stop()
			return nil
		},
	})
	return n, nil
}

func provideNotifier(n *services.NotificationService) services.Notifier {
	return n
}
