package secret

import (
	"fmt"

	"github.com/andrebq/idbox/token"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Token signing secret management",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Print a new random signing secret (base64), store it in the secret environment variable",
				Action: func(ctx *cli.Context) error {
					s, err := token.GenerateSecret()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(ctx.App.Writer, s)
					return err
				},
			},
		},
	}
}
