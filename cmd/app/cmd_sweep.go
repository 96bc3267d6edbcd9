package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"kimi/internal/services"
)

var cmdSweep = &cli.Command{
	Name:  "sweep",
	Usage: "run auto release, payment retries and reminders once, then exit",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Minute,
		},
	},
	Action: func(cctx *cli.Context) error {
		var scheduler *services.Scheduler
		app := newApp(fx.Populate(&scheduler))

		startCtx, cancel := context.WithTimeout(cctx.Context, time.Minute)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return err
		}

		ctx, cancelRun := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
		runErr := scheduler.RunOnce(ctx)
		cancelRun()

		stopCtx, cancelStop := context.WithTimeout(context.Background(), time.Minute)
		defer cancelStop()
		if err := app.Stop(stopCtx); err != nil {
			log.Warnw("shutdown", "err", err)
		}
		if runErr != nil {
			return runErr
		}
		log.Info("sweep finished")
		return nil
	},
}
