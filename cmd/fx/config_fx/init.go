package config_fx

import (
	"go.uber.org/fx"

	"kimi/internal/config"
	"kimi/internal/lifecycle"
	"kimi/pkg/utils"
)

var Module = fx.Provide(
	provideConfig, provideMachine, provideTokenManager)

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideMachine(cfg *config.Config) *lifecycle.Machine {
	return lifecycle.NewMachine(cfg.Escrow)
}

func provideTokenManager(cfg *config.Config) *utils.TokenManager {
	return utils.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
}
