package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ProviderClientID = "idbox-test-client"
	providerKeyID    = "test-key-1"
)

type (
	// Provider is a minimal OpenID Connect identity provider. It serves its
	// public key as a JWKS document and signs RS256 id tokens.
	Provider struct {
		Issuer   string
		JWKSURL  string
		ClientID string

		key     *rsa.PrivateKey
		server  *httptest.Server
		failing atomic.Bool
		fetches atomic.Int64
	}
)

func NewProvider(t TestLog) *Provider {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	p := &Provider{
		ClientID: ProviderClientID,
		key:      key,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/certs", p.serveKeys)
	p.server = httptest.NewServer(mux)
	p.Issuer = p.server.URL
	p.JWKSURL = p.server.URL + "/certs"
	return p
}

// Fail makes the key endpoint answer 503 until called with false.
func (p *Provider) Fail(fail bool) {
	p.failing.Store(fail)
}

// Fetches counts how many times the key document was requested.
func (p *Provider) Fetches() int64 {
	return p.fetches.Load()
}

func (p *Provider) PublicKey() *rsa.PublicKey {
	return &p.key.PublicKey
}

func (p *Provider) Close() {
	p.server.Close()
}

// Token returns an id token for the given account, valid for one hour.
// mutate can change any claim before signing.
func (p *Provider) Token(t TestLog, email, subject string, mutate ...func(jwt.MapClaims)) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            p.Issuer,
		"aud":            p.ClientID,
		"sub":            subject,
		"email":          email,
		"email_verified": true,
		"given_name":     "Test",
		"family_name":    "User",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	for _, fn := range mutate {
		fn(claims)
	}
	tk := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tk.Header["kid"] = providerKeyID
	signed, err := tk.SignedString(p.key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func (p *Provider) serveKeys(w http.ResponseWriter, req *http.Request) {
	p.fetches.Add(1)
	if p.failing.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	pub := p.key.PublicKey
	doc := map[string]interface{}{
		"keys": []map[string]string{
			{
				"kty": "RSA",
				"kid": providerKeyID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
