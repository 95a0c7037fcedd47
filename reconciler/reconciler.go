// Package reconciler holds the login policy: it decides which path
// (password or federated) authenticates a request and keeps a single
// identity record per email no matter which path created it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrebq/idbox/federation"
	"github.com/andrebq/idbox/identity"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/andrebq/idbox/passwd"
	"github.com/andrebq/idbox/token"
)

const (
	TokenType = "bearer"

	// DefaultTokenTTL is 30000 minutes, long lived on purpose: there is no
	// refresh rotation
	DefaultTokenTTL = 30000 * time.Minute

	decoyPassword = "idbox decoy password, never assigned"
)

var (
	ErrFederationDisabled = errors.New("reconciler: federated login is not configured")
	ErrTokensDisabled     = errors.New("reconciler: token service is not configured")
)

type (
	PasswordHasher interface {
		Hash(plain string) (string, error)
		Verify(plain, stored string) bool
	}

	TokenService interface {
		Issue(subject string, ttl time.Duration) (token.Token, error)
		Validate(raw string) (token.Claims, error)
	}

	Config struct {
		Store  identity.Store
		Hasher PasswordHasher
		// Tokens is optional, Register works without it
		Tokens TokenService
		// Provider is optional, without it OAuthLogin returns ErrFederationDisabled
		Provider federation.Verifier
		TokenTTL time.Duration
	}

	Reconciler struct {
		store    identity.Store
		hasher   PasswordHasher
		tokens   TokenService
		provider federation.Verifier
		ttl      time.Duration
		decoy    string
	}

	// Session is the bearer credential handed to a client.
	Session struct {
		AccessToken string
		TokenType   string
		ExpiresAt   time.Time
	}
)

func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil || cfg.Hasher == nil {
		return nil, errors.New("reconciler: store and hasher are required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	decoy, err := cfg.Hasher.Hash(decoyPassword)
	if err != nil {
		return nil, fmt.Errorf("reconciler: unable to compute decoy hash, cause %w", err)
	}
	return &Reconciler{
		store:    cfg.Store,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		provider: cfg.Provider,
		ttl:      cfg.TokenTTL,
		decoy:    decoy,
	}, nil
}

// Register validates req and stores a new password account.
func (r *Reconciler) Register(ctx context.Context, req SignupRequest) (identity.Record, error) {
	req = req.trimmed()
	if err := req.validate(); err != nil {
		return identity.Record{}, err
	}
	hash, err := r.hasher.Hash(req.Password)
	if errors.Is(err, passwd.ErrPasswordTooShort) {
		return identity.Record{}, Error{Kind: InvalidInput, Detail: "password is too short", cause: err}
	} else if err != nil {
		return identity.Record{}, fmt.Errorf("unable to hash password, cause %w", err)
	}
	rec := req.record(hash).Normalized()
	err = r.store.Create(ctx, rec)
	if errors.Is(err, identity.DuplicateIdentity{}) {
		log := logutil.GetOrDefault(ctx)
		log.Info().Str("email", rec.EmailKey).Msg("Signup rejected, email already registered")
		return identity.Record{}, failure(EmailAlreadyRegistered, err)
	} else if err != nil {
		return identity.Record{}, fmt.Errorf("unable to store identity %v, cause %w", rec.EmailKey, err)
	}
	return rec, nil
}

// Signup registers a password account and logs it in.
func (r *Reconciler) Signup(ctx context.Context, req SignupRequest) (Session, error) {
	rec, err := r.Register(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return r.issue(rec.Email)
}

// Login authenticates with email and password. Unknown emails, accounts
// without a password and wrong passwords all fail with the same error.
func (r *Reconciler) Login(ctx context.Context, email, password string) (Session, error) {
	log := logutil.GetOrDefault(ctx)
	rec, err := r.store.Lookup(ctx, email)
	if errors.Is(err, identity.NotFound{}) {
		r.hasher.Verify(password, r.decoy)
		log.Debug().Msg("Login rejected, unknown email")
		return Session{}, failure(InvalidCredentials, nil)
	} else if err != nil {
		return Session{}, fmt.Errorf("unable to lookup identity, cause %w", err)
	}
	if !rec.HasPassword() {
		r.hasher.Verify(password, r.decoy)
		log.Debug().Str("email", rec.EmailKey).Msg("Login rejected, account has no password")
		return Session{}, failure(InvalidCredentials, nil)
	}
	if !r.hasher.Verify(password, rec.PasswordHash) {
		log.Debug().Str("email", rec.EmailKey).Msg("Login rejected, wrong password")
		return Session{}, failure(InvalidCredentials, nil)
	}
	return r.issue(rec.Email)
}

// OAuthLogin authenticates with a token issued by the identity provider.
// The verified email decides which record is used: a new one is provisioned
// when absent, an existing one without a provider gets linked. An existing
// link to another provider account is kept untouched.
func (r *Reconciler) OAuthLogin(ctx context.Context, providerToken string) (Session, error) {
	if r.provider == nil {
		return Session{}, ErrFederationDisabled
	}
	a, err := r.provider.Verify(ctx, providerToken)
	if errors.Is(err, federation.ErrInvalidProviderToken) {
		return Session{}, failure(InvalidProviderToken, err)
	} else if err != nil {
		return Session{}, err
	}
	rec, err := r.reconcile(ctx, a)
	if err != nil {
		return Session{}, err
	}
	return r.issue(rec.Email)
}

func (r *Reconciler) reconcile(ctx context.Context, a federation.Assertion) (identity.Record, error) {
	log := logutil.GetOrDefault(ctx).With().Str("email", identity.NormalizeEmail(a.Email)).Str("provider", a.Provider).Logger()
	for attempt := 0; ; attempt++ {
		rec, err := r.store.Lookup(ctx, a.Email)
		switch {
		case errors.Is(err, identity.NotFound{}):
			rec, err = r.provision(ctx, a)
			if attempt == 0 && isEmailConflict(err) {
				// lost a race against another first login or signup
				log.Debug().Msg("Concurrent provisioning detected, retrying lookup")
				continue
			}
			if errors.Is(err, identity.DuplicateIdentity{}) {
				return identity.Record{}, failure(IdentityConflict, err)
			} else if err != nil {
				return identity.Record{}, fmt.Errorf("unable to provision identity, cause %w", err)
			}
			log.Info().Msg("Provisioned identity from federated login")
			return rec, nil
		case err != nil:
			return identity.Record{}, fmt.Errorf("unable to lookup identity, cause %w", err)
		case !rec.HasFederation():
			err = r.store.LinkOAuth(ctx, rec.Email, a.Provider, a.Subject)
			switch {
			case err == nil:
				log.Info().Msg("Linked provider to existing identity")
			case errors.Is(err, identity.AlreadyLinked{}):
				log.Info().Msg("Identity linked concurrently, keeping existing link")
			case errors.Is(err, identity.DuplicateIdentity{}):
				return identity.Record{}, failure(IdentityConflict, err)
			case errors.Is(err, identity.NotFound{}):
				return identity.Record{}, failure(AccountMissing, err)
			default:
				return identity.Record{}, fmt.Errorf("unable to link provider, cause %w", err)
			}
			return rec, nil
		case !rec.LinkedTo(a.Provider, a.Subject):
			log.Info().Str("linked.provider", rec.OAuthProvider).Msg("Identity linked to another provider account, keeping existing link")
			return rec, nil
		default:
			return rec, nil
		}
	}
}

func (r *Reconciler) provision(ctx context.Context, a federation.Assertion) (identity.Record, error) {
	rec := identity.Record{
		Email:         a.Email,
		FirstName:     a.GivenName,
		LastName:      a.FamilyName,
		OAuthProvider: a.Provider,
		OAuthSubject:  a.Subject,
	}.Normalized()
	return rec, r.store.Create(ctx, rec)
}

// AuthenticatedLookup returns the record of the token subject.
func (r *Reconciler) AuthenticatedLookup(ctx context.Context, raw string) (identity.Record, error) {
	if r.tokens == nil {
		return identity.Record{}, ErrTokensDisabled
	}
	claims, err := r.tokens.Validate(raw)
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Debug().Err(err).Msg("Bearer token rejected")
		return identity.Record{}, failure(Unauthenticated, err)
	}
	rec, err := r.store.Lookup(ctx, claims.Subject)
	if errors.Is(err, identity.NotFound{}) {
		return identity.Record{}, failure(AccountMissing, err)
	} else if err != nil {
		return identity.Record{}, fmt.Errorf("unable to lookup identity, cause %w", err)
	}
	return rec, nil
}

// Refresh issues a new token for the subject of a currently valid one.
// The store is not consulted.
func (r *Reconciler) Refresh(ctx context.Context, raw string) (Session, error) {
	if r.tokens == nil {
		return Session{}, ErrTokensDisabled
	}
	claims, err := r.tokens.Validate(raw)
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Debug().Err(err).Msg("Refresh rejected")
		return Session{}, failure(Unauthenticated, err)
	}
	return r.issue(claims.Subject)
}

func (r *Reconciler) issue(subject string) (Session, error) {
	if r.tokens == nil {
		return Session{}, ErrTokensDisabled
	}
	tk, err := r.tokens.Issue(subject, r.ttl)
	if err != nil {
		return Session{}, fmt.Errorf("unable to issue token for %v, cause %w", subject, err)
	}
	return Session{
		AccessToken: tk.Value,
		TokenType:   TokenType,
		ExpiresAt:   tk.ExpiresAt,
	}, nil
}

func isEmailConflict(err error) bool {
	var dup identity.DuplicateIdentity
	if !errors.As(err, &dup) {
		return false
	}
	return dup.Field == "" || strings.EqualFold(dup.Field, "email")
}
