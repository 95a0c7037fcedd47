package users

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/andrebq/idbox/identity"
	"github.com/andrebq/idbox/internal/app"
	"github.com/andrebq/idbox/internal/cmdflags"
	"github.com/andrebq/idbox/internal/config"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/andrebq/idbox/reconciler"
	"github.com/urfave/cli/v2"
)

func Cmd(cfg *config.Config) *cli.Command {
	var store identity.Store
	var closeStore app.Closer
	return &cli.Command{
		Name:  "users",
		Usage: "Manage identities directly on the store",
		Flags: cmdflags.StoreFlags(cfg),
		Before: func(ctx *cli.Context) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			var err error
			store, closeStore, err = app.OpenStore(ctx.Context, *cfg)
			return err
		},
		After: func(ctx *cli.Context) error {
			if closeStore == nil {
				return nil
			}
			return closeStore()
		},
		Subcommands: []*cli.Command{
			registerCmd(cfg, &store),
			showCmd(&store),
		},
	}
}

func registerCmd(cfg *config.Config, store *identity.Store) *cli.Command {
	var req reconciler.SignupRequest
	return &cli.Command{
		Name:  "register",
		Usage: "Register a new password account (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "Email of the account",
				Destination: &req.Email,
				Required:    true,
			},
			&cli.StringFlag{Name: "first-name", Destination: &req.FirstName, Required: true},
			&cli.StringFlag{Name: "last-name", Destination: &req.LastName, Required: true},
			&cli.StringFlag{Name: "date-of-birth", Usage: "YYYY-MM-DD", Destination: &req.DateOfBirth, Required: true},
			&cli.StringFlag{Name: "gender", Destination: &req.Gender, Required: true},
			&cli.StringFlag{Name: "country", Destination: &req.Country, Required: true},
		},
		Action: func(ctx *cli.Context) error {
			sc := bufio.NewScanner(os.Stdin)
			if !sc.Scan() {
				if sc.Err() != nil {
					return sc.Err()
				}
				return errors.New("missing password from stdin")
			}
			req.Password = strings.TrimSpace(sc.Text())
			if len(req.Password) == 0 {
				return errors.New("missing password from stdin")
			}
			r, closeRec, err := app.NewReconciler(ctx.Context, *cfg, *store, app.Options{})
			if err != nil {
				return err
			}
			defer closeRec()
			rec, err := r.Register(ctx.Context, req)
			if err != nil {
				return err
			}
			log := logutil.GetOrDefault(ctx.Context)
			log.Info().Str("email", rec.EmailKey).Msg("Identity registered")
			return nil
		},
	}
}

func showCmd(store *identity.Store) *cli.Command {
	var email string
	return &cli.Command{
		Name:  "show",
		Usage: "Print the profile of an identity as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Destination: &email,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			rec, err := (*store).Lookup(ctx.Context, email)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(ctx.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Email         string `json:"email"`
				FirstName     string `json:"first_name"`
				LastName      string `json:"last_name"`
				DateOfBirth   string `json:"date_of_birth,omitempty"`
				Gender        string `json:"gender,omitempty"`
				Country       string `json:"country,omitempty"`
				HasPassword   bool   `json:"has_password"`
				OAuthProvider string `json:"oauth_provider,omitempty"`
				CreatedAt     string `json:"created_at"`
			}{
				Email:         rec.Email,
				FirstName:     rec.FirstName,
				LastName:      rec.LastName,
				DateOfBirth:   rec.DateOfBirth,
				Gender:        rec.Gender,
				Country:       rec.Country,
				HasPassword:   rec.HasPassword(),
				OAuthProvider: rec.OAuthProvider,
				CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
			})
		},
	}
}
