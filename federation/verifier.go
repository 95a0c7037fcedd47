// Package federation verifies identity assertions issued by an external
// OpenID Connect provider (Google by default).
//
// Verification checks the token signature against the provider's published
// keys, the issuer, the expiry and the audience, which must be this
// service's client id. Any doubt is a failure: an unreachable key endpoint
// is reported as ProviderUnavailable and never as a valid identity.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andrebq/idbox/internal/logutil"
	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	GoogleProvider = "google"
	GoogleIssuer   = "https://accounts.google.com"
	GoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"

	DefaultTimeout = 5 * time.Second
)

var (
	ErrInvalidProviderToken = errors.New("federation: invalid provider token")
)

type (
	// Assertion holds the identity facts vouched for by the provider.
	Assertion struct {
		Provider      string    `json:"provider"`
		Subject       string    `json:"sub"`
		Email         string    `json:"email"`
		EmailVerified bool      `json:"email_verified"`
		GivenName     string    `json:"given_name"`
		FamilyName    string    `json:"family_name"`
		ExpiresAt     time.Time `json:"exp"`
	}

	Verifier interface {
		Verify(ctx context.Context, raw string) (Assertion, error)
	}

	// ProviderUnavailable means the provider keys could not be fetched,
	// the token was neither accepted nor rejected on its merits.
	ProviderUnavailable struct {
		Provider string
		cause    error
	}

	Config struct {
		// Provider is the name stored on linked identities, defaults to google
		Provider string
		Issuer   string
		ClientID string
		JWKSURL  string
		// Timeout bounds every call to the provider, defaults to DefaultTimeout
		Timeout time.Duration
		Now     func() time.Time
		// KeySet replaces the remote key set, used by tests and offline setups
		KeySet oidc.KeySet
	}

	OIDCVerifier struct {
		provider string
		timeout  time.Duration
		verifier *oidc.IDTokenVerifier
	}
)

func (p ProviderUnavailable) Error() string {
	return fmt.Sprintf("identity provider %v unavailable, cause %v", p.Provider, p.cause)
}

func (p ProviderUnavailable) Unwrap() error {
	return p.cause
}

func (ProviderUnavailable) Is(target error) bool {
	_, ok := target.(ProviderUnavailable)
	return ok
}

// NewOIDCVerifier builds a verifier for the configured provider.
// ctx bounds the lifetime of the background key fetches.
func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("federation: client id is required to check token audience")
	}
	if cfg.Provider == "" {
		cfg.Provider = GoogleProvider
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.JWKSURL == "" && cfg.Issuer == GoogleIssuer {
		cfg.JWKSURL = GoogleJWKSURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	keySet := cfg.KeySet
	if keySet == nil {
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("federation: jwks url is required for issuer %v", cfg.Issuer)
		}
		client := &http.Client{
			Timeout:   cfg.Timeout,
			Transport: guardTransport{base: http.DefaultTransport},
		}
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(ctx, client), cfg.JWKSURL)
	}
	verifier := oidc.NewVerifier(cfg.Issuer, guardedKeySet{inner: keySet}, &oidc.Config{
		ClientID: cfg.ClientID,
		Now:      cfg.Now,
	})
	return &OIDCVerifier{
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		verifier: verifier,
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Assertion, error) {
	log := logutil.GetOrDefault(ctx)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Assertion{}, fmt.Errorf("%w: empty token", ErrInvalidProviderToken)
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	p := &fetchProbe{}
	ctx = context.WithValue(ctx, fetchProbeKey{}, p)

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		if p.err != nil || ctx.Err() != nil {
			cause := p.err
			if cause == nil {
				cause = ctx.Err()
			}
			log.Error().Err(cause).Str("provider", v.provider).Msg("Unable to reach identity provider")
			return Assertion{}, ProviderUnavailable{Provider: v.provider, cause: cause}
		}
		log.Debug().Err(err).Str("provider", v.provider).Msg("Provider token rejected")
		return Assertion{}, fmt.Errorf("%w: %v", ErrInvalidProviderToken, err)
	}

	var claims struct {
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
		GivenName     string   `json:"given_name"`
		FamilyName    string   `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Assertion{}, fmt.Errorf("%w: unable to parse claims, cause %v", ErrInvalidProviderToken, err)
	}
	if idToken.Subject == "" || strings.TrimSpace(claims.Email) == "" {
		return Assertion{}, fmt.Errorf("%w: missing sub or email claim", ErrInvalidProviderToken)
	}
	if claims.EmailVerified.set && !claims.EmailVerified.value {
		return Assertion{}, fmt.Errorf("%w: provider has not verified the email", ErrInvalidProviderToken)
	}
	return Assertion{
		Provider:      v.provider,
		Subject:       idToken.Subject,
		Email:         strings.TrimSpace(claims.Email),
		EmailVerified: claims.EmailVerified.value,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		ExpiresAt:     idToken.Expiry,
	}, nil
}

// flexBool accepts both true and "true", some providers send the latter.
type flexBool struct {
	set   bool
	value bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.set, f.value = true, b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.set, f.value = true, strings.EqualFold(s, "true")
	return nil
}
