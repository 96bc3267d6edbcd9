package main

import (
	"github.com/urfave/cli/v2"

	"kimi/internal/config"
	"kimi/internal/infra"
)

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "create or update the database schema",
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := infra.InitPostgresql(cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer infra.ClosePostgresql(db)

		if err := infra.Migrate(db); err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	},
}
