package account_fx

import (
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/repositories"
	"kimi/internal/services"
	mem "kimi/pkg/memcache"
	"kimi/pkg/utils"
)

var Module = fx.Provide(
	provideKYCProvider, provideAccountService)

func provideKYCProvider() services.KYCProvider {
	return services.StaticKYCProvider{}
}

func provideAccountService(cfg *config.Config, accountRepo repositories.AccountRepository, mailService services.IMailService,
	resets mem.ResetTokenStore, tokens *utils.TokenManager, kyc services.KYCProvider) services.AccountServiceInterface {
	return services.NewAccountService(accountRepo, mailService, resets, tokens, kyc, cfg.Escrow.KYCMinConfidence, cfg.JWTTTL, cfg.ResetTTL)
}
