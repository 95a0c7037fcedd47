package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andrebq/idbox/federation"
	"github.com/andrebq/idbox/internal/testutil"
	"github.com/andrebq/idbox/passwd"
	"github.com/andrebq/idbox/reconciler"
	"github.com/andrebq/idbox/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/require"
)

const aliceSignup = `{
	"first_name": "Alice",
	"last_name": "Liddell",
	"date_of_birth": "1990-05-04",
	"gender": "female",
	"country": "UK",
	"email": "alice@example.com",
	"password": "correct-horse"
}`

func newHandler(t *testing.T) (http.Handler, *testutil.Provider) {
	ctx := context.Background()
	st, cleanup := testutil.AcquireStore(ctx, t, "identities.db")
	t.Cleanup(cleanup)
	p := testutil.NewProvider(t)
	t.Cleanup(p.Close)
	v, err := federation.NewOIDCVerifier(ctx, federation.Config{
		Issuer:   p.Issuer,
		ClientID: p.ClientID,
		JWKSURL:  p.JWKSURL,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	tokens, err := token.NewService(token.Config{Secret: bytes.Repeat([]byte("s"), token.MinSecretBytes)})
	require.NoError(t, err)
	r, err := reconciler.New(reconciler.Config{
		Store:    st,
		Hasher:   passwd.New(passwd.Params{Time: 1, MemoryKiB: 64, Threads: 1}),
		Tokens:   tokens,
		Provider: v,
		TokenTTL: time.Hour,
	})
	require.NoError(t, err)
	return AsHandler(r), p
}

func TestSignupEndpoint(t *testing.T) {
	handler, _ := newHandler(t)

	apitest.New().
		Handler(handler).
		Post("/api/signup").
		JSON(aliceSignup).
		Expect(t).
		Status(http.StatusCreated).
		Assert(jsonpath.Equal("$.token_type", "bearer")).
		Assert(jsonpath.Present("$.access_token")).
		Assert(jsonpath.Equal("$.message", "User signed up successfully.")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/signup").
		JSON(aliceSignup).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.kind", "email_already_registered")).
		Assert(jsonpath.Equal("$.detail", "Email already registered")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/signup").
		JSON(`{"email": "bob@example.com", "password": "long-enough"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.kind", "invalid_input")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/signup").
		Body(`not json`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.kind", "invalid_input")).
		End()
}

func TestPasswordFlow(t *testing.T) {
	handler, _ := newHandler(t)
	do(t, handler, http.MethodPost, "/api/signup", "application/json", aliceSignup, "", http.StatusCreated)

	apitest.New().
		Handler(handler).
		Post("/api/token").
		FormData("username", "alice@example.com").
		FormData("password", "wrong").
		Expect(t).
		Status(http.StatusUnauthorized).
		Header("WWW-Authenticate", "Bearer").
		Assert(jsonpath.Equal("$.kind", "invalid_credentials")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/token").
		FormData("username", "nobody@example.com").
		FormData("password", "correct-horse").
		Expect(t).
		Status(http.StatusUnauthorized).
		Header("WWW-Authenticate", "Bearer").
		Assert(jsonpath.Equal("$.kind", "invalid_credentials")).
		End()

	form := url.Values{"username": {"alice@example.com"}, "password": {"correct-horse"}}.Encode()
	body := do(t, handler, http.MethodPost, "/api/token", "application/x-www-form-urlencoded", form, "", http.StatusOK)
	access := body["access_token"].(string)

	apitest.New().
		Handler(handler).
		Get("/api/user").
		Header("Authorization", "Bearer "+access).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.email", "alice@example.com")).
		Assert(jsonpath.Equal("$.first_name", "Alice")).
		Assert(jsonpath.Equal("$.date_of_birth", "1990-05-04")).
		Assert(jsonpath.NotPresent("$.password")).
		End()

	refreshed := do(t, handler, http.MethodPost, "/api/refresh_token", "", "", access, http.StatusOK)
	require.NotEqual(t, access, refreshed["access_token"])
	require.Equal(t, "bearer", refreshed["token_type"])
}

func TestProtectedEndpointsRequireBearer(t *testing.T) {
	handler, _ := newHandler(t)

	apitest.New().
		Handler(handler).
		Get("/api/user").
		Expect(t).
		Status(http.StatusUnauthorized).
		Header("WWW-Authenticate", "Bearer").
		End()

	apitest.New().
		Handler(handler).
		Get("/api/user").
		Header("Authorization", "Bearer not-a-token").
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal("$.kind", "unauthenticated")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/refresh_token").
		Header("Authorization", "Basic abc").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestGoogleLoginFlow(t *testing.T) {
	handler, p := newHandler(t)

	login := func(raw string) string {
		buf, err := json.Marshal(providerLogin{Token: raw})
		require.NoError(t, err)
		return string(buf)
	}

	body := do(t, handler, http.MethodPost, "/api/google-login", "application/json",
		login(p.Token(t, "bob@example.com", "g-bob")), "", http.StatusOK)
	access := body["access_token"].(string)

	apitest.New().
		Handler(handler).
		Get("/api/user").
		Header("Authorization", "Bearer "+access).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.email", "bob@example.com")).
		Assert(jsonpath.Equal("$.first_name", "Test")).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/token").
		FormData("username", "bob@example.com").
		FormData("password", "any-password").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(handler).
		Post("/api/google-login").
		JSON(login(p.Token(t, "bob@example.com", "g-bob", func(c jwt.MapClaims) {
			c["aud"] = "another-application"
		}))).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.kind", "invalid_provider_token")).
		End()

	p.Fail(true)
	other := newIsolatedProviderToken(t, p)
	apitest.New().
		Handler(handler).
		Post("/api/google-login").
		JSON(login(other)).
		Expect(t).
		Status(http.StatusServiceUnavailable).
		Assert(jsonpath.Equal("$.kind", "provider_unavailable")).
		End()
}

func TestHealthz(t *testing.T) {
	handler, _ := newHandler(t)
	apitest.New().
		Handler(handler).
		Get("/healthz").
		Expect(t).
		Status(http.StatusOK).
		Body("ok").
		End()
}

// newIsolatedProviderToken signs a token with a key unknown to the cached
// key set, forcing the verifier to go back to the provider.
func newIsolatedProviderToken(t *testing.T, p *testutil.Provider) string {
	stranger := testutil.NewProvider(t)
	t.Cleanup(stranger.Close)
	return stranger.Token(t, "carol@example.com", "g-carol", func(c jwt.MapClaims) {
		c["iss"] = p.Issuer
	})
}

func do(t *testing.T, h http.Handler, method, path, contentType, body, bearer string, status int) map[string]interface{} {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, status, rec.Code, rec.Body.String())
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
