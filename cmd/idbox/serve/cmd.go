package serve

import (
	"os"

	"github.com/andrebq/idbox/internal/app"
	"github.com/andrebq/idbox/internal/cmdflags"
	"github.com/andrebq/idbox/internal/config"
	"github.com/andrebq/idbox/internal/httpserver"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/andrebq/idbox/reconciler/api"
	"github.com/andrebq/idbox/token"
	"github.com/urfave/cli/v2"
)

func Cmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the idbox HTTP API",
		Flags: append([]cli.Flag{
			cmdflags.Bind(&cfg.Bind),
			cmdflags.SecretEnvVar(&cfg.SecretEnvVar),
		}, cmdflags.StoreFlags(cfg)...),
		Action: func(ctx *cli.Context) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := logutil.GetOrDefault(ctx.Context)
			secret, err := token.SecretFromEnv(cfg.SecretEnvVar, os.Getenv, os.Setenv)
			if err != nil {
				return err
			}
			store, closeStore, err := app.OpenStore(ctx.Context, *cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					log.Error().Err(err).Msg("Unable to close identity store")
				}
			}()
			rec, closeRec, err := app.NewReconciler(ctx.Context, *cfg, store, app.Options{
				Secret:     secret,
				Federation: true,
			})
			if err != nil {
				return err
			}
			defer closeRec()
			return httpserver.Serve(ctx.Context, httpserver.Defaults(cfg.Bind), api.AsHandler(rec))
		},
	}
}
