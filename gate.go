package fedauth

import "context"

type identityContextKey struct{}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed  bool
	Identity *UserIdentity
}

// AccessGate decides whether a request carries an authenticated identity.
// It only reads what ExtractUser already placed in the context.
type AccessGate struct{}

// Authorize returns Allowed with the identity when the request is bound and
// Denied otherwise.  It performs no I/O.
func (AccessGate) Authorize(ctx context.Context) Decision {
	user := CurrentIdentity(ctx)
	if user == nil {
		return Decision{}
	}
	return Decision{Allowed: true, Identity: user}
}

// CurrentIdentity returns the identity resolved for this request, or nil.
func CurrentIdentity(ctx context.Context) *UserIdentity {
	user, _ := ctx.Value(identityContextKey{}).(*UserIdentity)
	return user
}

// WithIdentity returns a context carrying user.
func WithIdentity(ctx context.Context, user *UserIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, user)
}
