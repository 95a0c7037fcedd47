// Package api exposes the reconciler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/andrebq/idbox/federation"
	"github.com/andrebq/idbox/identity"
	"github.com/andrebq/idbox/internal/logutil"
	"github.com/andrebq/idbox/reconciler"
	"github.com/julienschmidt/httprouter"
)

const (
	maxBodyBytes = 64 * 1024
)

type (
	Service interface {
		Signup(ctx context.Context, req reconciler.SignupRequest) (reconciler.Session, error)
		Login(ctx context.Context, email, password string) (reconciler.Session, error)
		OAuthLogin(ctx context.Context, providerToken string) (reconciler.Session, error)
		AuthenticatedLookup(ctx context.Context, raw string) (identity.Record, error)
		Refresh(ctx context.Context, raw string) (reconciler.Session, error)
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Message     string `json:"message,omitempty"`
	}

	profileResponse struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		Email       string `json:"email"`
		DateOfBirth string `json:"date_of_birth"`
		Gender      string `json:"gender"`
		Country     string `json:"country"`
	}

	failureResponse struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}

	providerLogin struct {
		Token string `json:"token"`
	}
)

var statusByKind = map[reconciler.Kind]int{
	reconciler.EmailAlreadyRegistered: http.StatusBadRequest,
	reconciler.InvalidInput:           http.StatusBadRequest,
	reconciler.InvalidProviderToken:   http.StatusBadRequest,
	reconciler.InvalidCredentials:     http.StatusUnauthorized,
	reconciler.Unauthenticated:        http.StatusUnauthorized,
	reconciler.AccountMissing:         http.StatusUnauthorized,
	reconciler.IdentityConflict:       http.StatusConflict,
}

// AsHandler returns the HTTP routes served by idbox.
func AsHandler(svc Service) http.Handler {
	router := httprouter.New()
	router.HandlerFunc("POST", "/api/signup", signup(svc))
	router.HandlerFunc("POST", "/api/token", login(svc))
	router.HandlerFunc("POST", "/api/google-login", oauthLogin(svc))
	router.Handler("GET", "/api/user", Protect(profile(svc)))
	router.Handler("POST", "/api/refresh_token", Protect(refresh(svc)))
	router.HandlerFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	return router
}

func signup(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reconciler.SignupRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err := svc.Signup(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, http.StatusCreated, session, "User signed up successfully.")
	}
}

func login(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeFailure(w, http.StatusBadRequest, string(reconciler.InvalidInput), "Unable to parse form")
			return
		}
		session, err := svc.Login(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, http.StatusOK, session, "")
	}
}

func oauthLogin(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providerLogin
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err := svc.OAuthLogin(r.Context(), req.Token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, http.StatusOK, session, "")
	}
}

func profile(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.AuthenticatedLookup(r.Context(), bearerToken(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{
			FirstName:   rec.FirstName,
			LastName:    rec.LastName,
			Email:       rec.Email,
			DateOfBirth: rec.DateOfBirth,
			Gender:      rec.Gender,
			Country:     rec.Country,
		})
	}
}

func refresh(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := svc.Refresh(r.Context(), bearerToken(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, http.StatusOK, session, "")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Debug().Err(err).Msg("Unable to decode request body")
		writeFailure(w, http.StatusBadRequest, string(reconciler.InvalidInput), "Request body must be a valid JSON object")
		return false
	}
	return true
}

func writeSession(w http.ResponseWriter, status int, s reconciler.Session, msg string) {
	var expiresIn int64
	if !s.ExpiresAt.IsZero() {
		expiresIn = int64(time.Until(s.ExpiresAt) / time.Second)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, tokenResponse{
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		ExpiresIn:   expiresIn,
		Message:     msg,
	})
}

// writeError answers expected failures with their kind and hides the
// details of everything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logutil.GetOrDefault(r.Context())
	var rerr reconciler.Error
	switch {
	case errors.As(err, &rerr):
		status, ok := statusByKind[rerr.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		writeFailure(w, status, string(rerr.Kind), rerr.Detail)
	case errors.Is(err, federation.ProviderUnavailable{}):
		log.Error().Err(err).Msg("Identity provider unavailable")
		writeFailure(w, http.StatusServiceUnavailable, "provider_unavailable", "Identity provider is unavailable, try again later")
	case errors.Is(err, reconciler.ErrFederationDisabled):
		writeFailure(w, http.StatusNotImplemented, "federation_disabled", "Federated login is not enabled")
	default:
		log.Error().Err(err).Msg("Unexpected error while handling request")
		writeFailure(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func writeFailure(w http.ResponseWriter, status int, kind, detail string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, failureResponse{Kind: kind, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
