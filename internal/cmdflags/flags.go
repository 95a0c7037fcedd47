package cmdflags

import (
	"github.com/andrebq/idbox/internal/config"
	"github.com/urfave/cli/v2"
)

func Bind(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "bind",
		Aliases:     []string{"b"},
		Usage:       "Address to bind the HTTP API",
		Destination: out,
		Value:       *out,
	}
}

func Store(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "store",
		Usage:       "Identity store backend (sqlite or mongo)",
		Destination: out,
		Value:       *out,
	}
}

func SQLitePath(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "db",
		Aliases:     []string{"d"},
		Usage:       "Path to the sqlite identity database",
		Destination: out,
		Value:       *out,
	}
}

func MongoURI(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "mongo-uri",
		Usage:       "MongoDB connection string, used when store is mongo",
		Destination: out,
		Value:       *out,
	}
}

func SecretEnvVar(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "secret-envvar-name",
		Usage:       "Name of the environment variable that holds the token signing secret. The secret itself should not be passed as an argument",
		Value:       *out,
		Destination: out,
	}
}

// StoreFlags returns the flags that select and locate the identity store.
func StoreFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		Store(&cfg.Store),
		SQLitePath(&cfg.SQLitePath),
		MongoURI(&cfg.MongoURI),
	}
}
