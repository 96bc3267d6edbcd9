package db_fx

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"kimi/internal/config"
	"kimi/internal/infra"
	"kimi/internal/repositories"
)

var Module = fx.Provide(
	provideDB, provideRepositories, provideAccountRepo)

func provideDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	db, err := infra.InitPostgresql(cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			infra.ClosePostgresql(db)
			return nil
		},
	})
	return db, nil
}

func provideRepositories(db *gorm.DB) repositories.Set {
	return repositories.NewSet(db)
}

func provideAccountRepo(repos repositories.Set) repositories.AccountRepository {
	return repos.Accounts
}
