package common

import "context"

// Identity is the visitor snapshot carried through a request: who they are
// (when authenticated) and where the request came from.
type Identity struct {
	CustomerID string
	Email      string
	IP         string
	UserAgent  string
}

// LoggedIn reports whether the visitor has an authenticated customer id.
func (i Identity) LoggedIn() bool {
	return i.CustomerID != ""
}

type ctxKey string

const identityKey ctxKey = "auth/identity"

// WithIdentity stores the visitor identity on the provided context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the visitor identity from the context if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
