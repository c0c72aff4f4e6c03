// Package memverify is a reference store.TokenVerifier: it accepts any
// non-empty bearer token and derives a stable user id ("u-" + token)
// and a deterministic avatar URL from it. Real deployments supply their
// own verifier; this one exists so cmd/tunehubd has something to run
// against without external credentials.
package memverify

import (
	"context"

	"github.com/tunehub/tunehub/internal/apperr"
	"github.com/tunehub/tunehub/internal/store"
)

type Verifier struct{}

func New() *Verifier { return &Verifier{} }

func (v *Verifier) Verify(_ context.Context, token string) (store.VerifiedIdentity, error) {
	if token == "" {
		return store.VerifiedIdentity{}, apperr.AuthError("empty-token", "no token supplied")
	}
	return store.VerifiedIdentity{
		UserID:   "u-" + token,
		PhotoURL: "https://avatars.tunehub.example/" + token,
	}, nil
}
