package mail_fx

import (
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/services"
)

var log = logging.Logger("mail")

var Module = fx.Provide(provideMailService)

// provideMailService returns nil when SMTP is not configured; the notifier
// then only publishes and logs events.
func provideMailService(cfg *config.Config) services.IMailService {
	if cfg.SMTP.Host == "" {
		log.Info("SMTP_HOST not set, notification and reset mail disabled")
		return nil
	}

	mailService, err := services.NewSMTPMailService(services.SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		FromName:   "Kimi Escrow",
		UseSSL:     cfg.SMTP.Port == 465,
		RequireTLS: true,

		AppName:    "Kimi Escrow",
		AppBaseURL: cfg.AppBaseURL,
	})
	if err != nil {
		log.Errorw("failed to initialize SMTP mail service", "err", err)
		return nil
	}
	return mailService
}
