// Package app builds the idbox components out of a config.Config.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrebq/idbox/federation"
	"github.com/andrebq/idbox/identity"
	"github.com/andrebq/idbox/identity/mongostore"
	"github.com/andrebq/idbox/identity/sqlstore"
	"github.com/andrebq/idbox/internal/config"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/andrebq/idbox/passwd"
	"github.com/andrebq/idbox/reconciler"
	"github.com/andrebq/idbox/token"
)

type (
	// Closer releases whatever Open* acquired, it is never nil.
	Closer func() error

	// Options selects which optional parts NewReconciler should build.
	Options struct {
		// Secret enables token issuing, nil means Register only
		Secret []byte
		// Federation enables OAuthLogin when a client id is configured
		Federation bool
	}
)

func noop() error { return nil }

// OpenStore connects to the identity store selected by cfg.Store.
func OpenStore(ctx context.Context, cfg config.Config) (identity.Store, Closer, error) {
	log := logutil.GetOrDefault(ctx)
	switch strings.ToLower(cfg.Store) {
	case config.SQLiteStore:
		st, err := sqlstore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		log.Info().Str("store", config.SQLiteStore).Str("path", cfg.SQLitePath).Msg("Identity store opened")
		return st, st.Close, nil
	case config.MongoStore:
		st, client, err := mongostore.Connect(ctx, cfg.MongoURI, mongostore.Config{Database: cfg.MongoDB})
		if err != nil {
			return nil, noop, err
		}
		log.Info().Str("store", config.MongoStore).Str("database", cfg.MongoDB).Msg("Identity store opened")
		return st, func() error { return client.Disconnect(context.Background()) }, nil
	}
	return nil, noop, fmt.Errorf("app: unknown store %q", cfg.Store)
}

// NewReconciler wires the password hasher, token service and identity
// provider on top of store.
func NewReconciler(ctx context.Context, cfg config.Config, store identity.Store, opts Options) (*reconciler.Reconciler, Closer, error) {
	log := logutil.GetOrDefault(ctx)
	rcfg := reconciler.Config{
		Store:    store,
		Hasher:   passwd.New(cfg.PasswordParams()),
		TokenTTL: cfg.TokenTTL,
	}
	if opts.Secret != nil {
		tokens, err := token.NewService(cfg.TokenConfig(opts.Secret))
		if err != nil {
			return nil, noop, err
		}
		rcfg.Tokens = tokens
	}
	closer := Closer(noop)
	if opts.Federation && cfg.FederationEnabled() {
		verifier, err := federation.NewOIDCVerifier(ctx, federation.Config{
			Provider: federation.GoogleProvider,
			Issuer:   cfg.GoogleIssuer,
			ClientID: cfg.GoogleClientID,
			JWKSURL:  cfg.GoogleJWKSURL,
			Timeout:  cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, noop, err
		}
		rcfg.Provider = verifier
		if cfg.AssertionCacheWindow > 0 {
			cached, err := federation.NewCachedVerifier(ctx, verifier, cfg.AssertionCacheWindow)
			if err != nil {
				return nil, noop, err
			}
			rcfg.Provider = cached
			closer = cached.Close
		}
		log.Info().Str("issuer", cfg.GoogleIssuer).Dur("cache.window", cfg.AssertionCacheWindow).Msg("Federated login enabled")
	} else if opts.Federation {
		log.Warn().Msg("Federated login disabled, no google client id configured")
	}
	r, err := reconciler.New(rcfg)
	if err != nil {
		closer()
		return nil, noop, err
	}
	return r, closer, nil
}
