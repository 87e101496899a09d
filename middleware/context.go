package middleware

import (
	"context"

	authgate "github.com/throttlekit/authgate"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity resolved by [Admission] for the
// current request, if any.
func IdentityFromContext(ctx context.Context) (authgate.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(authgate.Identity)
	return id, ok
}

func withIdentity(ctx context.Context, id authgate.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}
