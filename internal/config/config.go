// Package config loads the idbox settings from IDBOX_* environment
// variables. Command line flags may override some of them afterwards.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/andrebq/idbox/passwd"
	"github.com/andrebq/idbox/token"
	"github.com/caarlos0/env/v11"
)

const (
	SQLiteStore = "sqlite"
	MongoStore  = "mongo"
)

type (
	Config struct {
		Bind      string `env:"IDBOX_BIND" envDefault:"localhost:8000"`
		LogLevel  string `env:"IDBOX_LOG_LEVEL" envDefault:"info"`
		LogPretty bool   `env:"IDBOX_LOG_PRETTY" envDefault:"false"`

		Store      string `env:"IDBOX_STORE" envDefault:"sqlite"`
		SQLitePath string `env:"IDBOX_SQLITE_PATH" envDefault:"idbox.db"`
		MongoURI   string `env:"IDBOX_MONGO_URI" envDefault:"mongodb://localhost:27017"`
		MongoDB    string `env:"IDBOX_MONGO_DATABASE" envDefault:"idbox"`

		// SecretEnvVar names the variable holding the base64 signing secret,
		// the secret itself never goes through flags.
		SecretEnvVar string        `env:"IDBOX_SECRET_ENVVAR" envDefault:"IDBOX_TOKEN_SECRET"`
		TokenIssuer  string        `env:"IDBOX_TOKEN_ISSUER" envDefault:"idbox"`
		TokenTTL     time.Duration `env:"IDBOX_TOKEN_TTL" envDefault:"500h"`

		GoogleClientID  string        `env:"IDBOX_GOOGLE_CLIENT_ID"`
		GoogleIssuer    string        `env:"IDBOX_GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
		GoogleJWKSURL   string        `env:"IDBOX_GOOGLE_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
		ProviderTimeout time.Duration `env:"IDBOX_PROVIDER_TIMEOUT" envDefault:"5s"`
		// AssertionCacheWindow of zero disables the verified assertion cache
		AssertionCacheWindow time.Duration `env:"IDBOX_ASSERTION_CACHE_WINDOW" envDefault:"1m"`

		PasswordTime      uint32 `env:"IDBOX_PASSWORD_TIME" envDefault:"7"`
		PasswordMemoryKiB uint32 `env:"IDBOX_PASSWORD_MEMORY_KIB" envDefault:"10240"`
		PasswordThreads   uint8  `env:"IDBOX_PASSWORD_THREADS"`
		PasswordMinLength int    `env:"IDBOX_PASSWORD_MIN_LENGTH" envDefault:"8"`
	}
)

// Parse reads the environment without validating the result, commands
// that do not touch the store can run with an incomplete setup.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to parse environment, cause %w", err)
	}
	return cfg, nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case SQLiteStore:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: sqlite store requires a database path")
		}
	case MongoStore:
		if c.MongoURI == "" {
			return fmt.Errorf("config: mongo store requires a connection uri")
		}
	default:
		return fmt.Errorf("config: unknown store %q, use %v or %v", c.Store, SQLiteStore, MongoStore)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token ttl must be positive, got %v", c.TokenTTL)
	}
	if c.SecretEnvVar == "" {
		return fmt.Errorf("config: the name of the secret environment variable is required")
	}
	return nil
}

// FederationEnabled reports whether Google login can be served.
func (c Config) FederationEnabled() bool {
	return c.GoogleClientID != ""
}

func (c Config) PasswordParams() passwd.Params {
	return passwd.Params{
		Time:      c.PasswordTime,
		MemoryKiB: c.PasswordMemoryKiB,
		Threads:   c.PasswordThreads,
		MinLength: c.PasswordMinLength,
	}
}

func (c Config) TokenConfig(secret []byte) token.Config {
	return token.Config{
		Secret: secret,
		Issuer: c.TokenIssuer,
	}
}
