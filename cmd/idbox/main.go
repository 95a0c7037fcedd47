package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/andrebq/idbox/cmd/idbox/secret"
	"github.com/andrebq/idbox/cmd/idbox/serve"
	"github.com/andrebq/idbox/cmd/idbox/users"
	"github.com/andrebq/idbox/internal/config"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logutil.Setup(cfg.LogLevel, cfg.LogPretty)
	app := &cli.App{
		Name:  "idbox",
		Usage: "Sign up, log in and keep one identity per email",
		Commands: []*cli.Command{
			serve.Cmd(&cfg),
			users.Cmd(&cfg),
			secret.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = logutil.WithLogger(ctx, log.Logger)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
