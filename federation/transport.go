package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

type (
	unreachable struct {
		cause error
	}

	guardTransport struct {
		base http.RoundTripper
	}

	// guardedKeySet reports key fetch failures to the fetchProbe in the
	// request context, the oidc verifier flattens the error chain.
	guardedKeySet struct {
		inner oidc.KeySet
	}

	fetchProbe struct {
		err error
	}

	fetchProbeKey struct{}
)

func (u unreachable) Error() string {
	return fmt.Sprintf("provider unreachable: %v", u.cause)
}

func (u unreachable) Unwrap() error {
	return u.cause
}

func (g guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := g.base.RoundTrip(req)
	if err != nil {
		return nil, unreachable{cause: err}
	}
	if res.StatusCode >= http.StatusInternalServerError {
		res.Body.Close()
		return nil, unreachable{cause: fmt.Errorf("%v answered with status %v", req.URL.Host, res.StatusCode)}
	}
	return res, nil
}

func (g guardedKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := g.inner.VerifySignature(ctx, jwt)
	if err != nil {
		var u unreachable
		if errors.As(err, &u) {
			if p, ok := ctx.Value(fetchProbeKey{}).(*fetchProbe); ok {
				p.err = u
			}
		}
	}
	return payload, err
}
