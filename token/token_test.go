package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, c *clock) *Service {
	s, err := NewService(Config{Secret: testSecret, Now: c.Now})
	require.NoError(t, err)
	return s
}

func TestIssueAndValidate(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)

	tk, err := s.Issue("alice@example.com", time.Hour)
	require.NoError(t, err)
	require.Equal(t, c.now.Add(time.Hour), tk.ExpiresAt)

	claims, err := s.Validate(tk.Value)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", claims.Subject)
	require.NotEmpty(t, claims.ID)

	c.now = c.now.Add(59 * time.Minute)
	_, err = s.Validate(tk.Value)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Minute)
	_, err = s.Validate(tk.Value)
	require.ErrorIs(t, err, ErrExpired)
}

func TestZeroTTLIsExpired(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)
	for _, ttl := range []time.Duration{0, -time.Minute} {
		tk, err := s.Issue("alice@example.com", ttl)
		require.NoError(t, err)
		_, err = s.Validate(tk.Value)
		require.ErrorIs(t, err, ErrExpired, "ttl %v", ttl)
	}
}

func TestReissueGivesIndependentTokens(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)
	a, err := s.Issue("alice@example.com", time.Hour)
	require.NoError(t, err)
	b, err := s.Issue("alice@example.com", time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, a.Value, b.Value)
	_, err = s.Validate(a.Value)
	require.NoError(t, err)
	_, err = s.Validate(b.Value)
	require.NoError(t, err)
}

func TestTamperedSignature(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)
	tk, err := s.Issue("alice@example.com", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(tk.Value, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[0] ^= 0xff
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	tampered := strings.Join(parts, ".")

	_, err = s.Validate(tampered)
	require.ErrorIs(t, err, ErrBadSignature)

	// still a signature failure once the token would have expired
	c.now = c.now.Add(2 * time.Hour)
	_, err = s.Validate(tampered)
	require.ErrorIs(t, err, ErrBadSignature)
	require.False(t, errors.Is(err, ErrExpired))
}

func TestForeignSecretAndAlgorithms(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, c)

	other, err := NewService(Config{Secret: []byte("ffffffffffffffffffffffffffffffff"), Now: c.Now})
	require.NoError(t, err)
	tk, err := other.Issue("alice@example.com", time.Hour)
	require.NoError(t, err)
	_, err = s.Validate(tk.Value)
	require.ErrorIs(t, err, ErrBadSignature)

	claims := jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Hour)),
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(none)
	require.ErrorIs(t, err, ErrBadSignature)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = s.Validate(hs512)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestMalformed(t *testing.T) {
	s := newTestService(t, &clock{now: time.Now()})
	for _, raw := range []string{"", "abc", "a.b.c", "not.a.token.at.all"} {
		_, err := s.Validate(raw)
		require.ErrorIs(t, err, ErrMalformed, "raw %q", raw)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = s.Validate(noSubject)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(Config{Secret: []byte("short")})
	require.Error(t, err)
}

func TestSecretFromEnv(t *testing.T) {
	env := map[string]string{SecretEnvVar: base64.StdEncoding.EncodeToString(testSecret)}
	get := func(k string) string { return env[k] }
	set := func(k, v string) error { env[k] = v; return nil }

	secret, err := SecretFromEnv(SecretEnvVar, get, set)
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)
	require.Empty(t, env[SecretEnvVar], "reading the secret should remove it from the environment")

	env[SecretEnvVar] = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = SecretFromEnv(SecretEnvVar, get, set)
	require.Error(t, err)

	gen, err := GenerateSecret()
	require.NoError(t, err)
	env[SecretEnvVar] = gen
	_, err = SecretFromEnv(SecretEnvVar, get, set)
	require.NoError(t, err)
}
