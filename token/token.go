// Package token issues and validates the bearer tokens handed to clients
// after a successful login.
//
// Tokens are HS256 JWTs carrying the account email as subject. Nothing is
// kept server side: a token is valid while its signature verifies and its
// expiry is in the future, so there is no way to revoke one early.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the default for Config.Issuer.
	DefaultIssuer = "idbox"

	// MinSecretBytes is the smallest signing secret accepted by NewService.
	MinSecretBytes = 32
)

var (
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")

	signingMethod = jwt.SigningMethodHS256
)

type (
	Config struct {
		Secret []byte
		Issuer string
		// Now defaults to time.Now
		Now func() time.Time
	}

	Service struct {
		secret []byte
		issuer string
		now    func() time.Time
		parser *jwt.Parser
	}

	// Token is a freshly issued bearer credential.
	Token struct {
		Value     string
		ExpiresAt time.Time
	}

	// Claims are the validated contents of a token.
	Claims struct {
		Subject   string
		ID        string
		IssuedAt  time.Time
		ExpiresAt time.Time
	}
)

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("token: secret must have at least %v bytes, got %v", MinSecretBytes, len(cfg.Secret))
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Service{
		secret: secret,
		issuer: cfg.Issuer,
		now:    cfg.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue signs a token for subject that expires after ttl.
// Each call produces a distinct token, even for the same subject.
func (s *Service) Issue(subject string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("token: subject is required")
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	value, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("token: unable to sign, cause %w", err)
	}
	return Token{Value: value, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Validate checks the signature first and the expiry second, so a forged
// token is reported as ErrBadSignature even when it is also expired.
func (s *Service) Validate(raw string) (Claims, error) {
	var parsed jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(raw, &parsed, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if parsed.Subject == "" || parsed.ExpiresAt == nil || parsed.Issuer != s.issuer {
		return Claims{}, ErrMalformed
	}
	exp := parsed.ExpiresAt.Time
	if !exp.After(s.now()) {
		return Claims{}, ErrExpired
	}
	c := Claims{
		Subject:   parsed.Subject,
		ID:        parsed.ID,
		ExpiresAt: exp,
	}
	if parsed.IssuedAt != nil {
		c.IssuedAt = parsed.IssuedAt.Time
	}
	return c, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
