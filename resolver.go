package fedauth

import (
	"context"
	"fmt"
	"log/slog"
)

// IdentityResolver maps verified credentials and provider profiles to the
// canonical identity.  Atomicity lives in the store so that resolvers in
// separate processes agree.
type IdentityResolver struct {
	Users   UserStore
	Metrics *Metrics
	Logger  *slog.Logger
}

func NewIdentityResolver(users UserStore) *IdentityResolver {
	return &IdentityResolver{Users: users, Logger: slog.Default()}
}

func (r *IdentityResolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// ResolveLocal creates the identity for a freshly registered credential.
func (r *IdentityResolver) ResolveLocal(ctx context.Context, cred LocalCredential) (*UserIdentity, error) {
	user, err := r.Users.CreateLocalUser(ctx, cred)
	if err != nil {
		return nil, err
	}
	r.Metrics.identityCreated("local")
	r.logger().Info("created local identity", "user_id", user.ID, "username", cred.Username)
	return user, nil
}

// ResolveExternal returns the identity linked to (provider, externalID),
// creating it on first sight.
func (r *IdentityResolver) ResolveExternal(ctx context.Context, provider, externalID string) (*UserIdentity, error) {
	if provider == "" || externalID == "" {
		return nil, fmt.Errorf("%w: provider and external id are required", ErrProviderProfileIncomplete)
	}
	user, created, err := r.Users.FindOrCreateExternal(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}
	if created {
		r.Metrics.identityCreated(provider)
		r.logger().Info("created external identity", "user_id", user.ID, "provider", provider)
	}
	return user, nil
}

// LinkExternal attaches a provider profile to an existing identity.  It never
// merges two existing identities.
func (r *IdentityResolver) LinkExternal(ctx context.Context, userId string, profile *ExternalProfile) (*UserIdentity, error) {
	if profile == nil || profile.ExternalID == "" {
		return nil, ErrProviderProfileIncomplete
	}
	user, err := r.Users.LinkExternal(ctx, userId, profile.Provider, profile.ExternalID)
	if err != nil {
		return nil, err
	}
	r.logger().Info("linked external account", "user_id", userId, "provider", profile.Provider)
	return user, nil
}
