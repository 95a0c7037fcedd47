package api

import (
	"context"
	"net/http"
	"regexp"
)

type (
	bearerKey struct{}
)

var (
	bearerTokenRE = regexp.MustCompile(`^Bearer ([^\s]+)$`)
)

// Protect rejects requests without a bearer token and hands the token to
// sensitive through the request context. The token itself is validated by
// the handler.
func Protect(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		groups := bearerTokenRE.FindStringSubmatch(r.Header.Get("Authorization"))
		if len(groups) == 0 {
			writeFailure(w, http.StatusUnauthorized, "unauthenticated", "Could not validate credentials")
			return
		}
		ctx := context.WithValue(r.Context(), bearerKey{}, groups[1])
		sensitive.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(ctx context.Context) string {
	tk, _ := ctx.Value(bearerKey{}).(string)
	return tk
}
