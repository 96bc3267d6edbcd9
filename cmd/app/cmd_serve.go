package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"kimi/cmd/fx/account_fx"
	"kimi/cmd/fx/config_fx"
	"kimi/cmd/fx/controllers_fx"
	"kimi/cmd/fx/db_fx"
	"kimi/cmd/fx/escrow_fx"
	"kimi/cmd/fx/gateway_fx"
	"kimi/cmd/fx/mail_fx"
	"kimi/cmd/fx/memcache_fx"
	"kimi/cmd/fx/notification_fx"
	"kimi/cmd/fx/scheduler_fx"
	"kimi/internal/api"
	"kimi/internal/config"
	"kimi/internal/infra"
	"kimi/internal/services"
	"kimi/pkg/utils"
)

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API and the background sweeps",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "migrate",
			Usage: "apply schema migrations before serving",
		},
		&cli.BoolFlag{
			Name:  "no-scheduler",
			Usage: "serve HTTP only, leave the sweeps to another instance",
		},
	},
	Action: func(cctx *cli.Context) error {
		opts := []fx.Option{
			fx.Invoke(func(cfg *config.Config) error {
				return logging.SetLogLevel("*", cfg.LogLevel)
			}),
			fx.Provide(ProvideRouter),
			controllers_fx.Module,
			fx.Invoke(StartServer),
		}
		if cctx.Bool("migrate") {
			opts = append([]fx.Option{fx.Invoke(infra.Migrate)}, opts...)
		}
		if !cctx.Bool("no-scheduler") {
			opts = append(opts, fx.Invoke(StartScheduler))
		}

		app := newApp(opts...)
		app.Run()
		return app.Err()
	},
}

// newApp composes the modules every command shares.
func newApp(opts ...fx.Option) *fx.App {
	base := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logging.Logger("fx").Desugar()}
		}),
		config_fx.Module,
		db_fx.Module,
		gateway_fx.Module,
		memcache_fx.Module,
		mail_fx.Module,
		notification_fx.Module,
		account_fx.Module,
		escrow_fx.Module,
		scheduler_fx.Module,
	}
	return fx.New(append(base, opts...)...)
}

func ProvideRouter(tokens *utils.TokenManager, handlers api.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return api.NewRouter(tokens, handlers)
}

func StartServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow("starting HTTP server", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("HTTP server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

func StartScheduler(lc fx.Lifecycle, scheduler *services.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			scheduler.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}
