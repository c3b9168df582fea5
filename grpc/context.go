// Package grpc carries the signed-in identity from fedauth HTTP handlers to
// gRPC backends through request metadata.  Backends must only accept this
// metadata from trusted front ends; there is no way to act as another user.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	fa "github.com/panyam/fedauth"
)

// DefaultMetadataKeyIdentityID is the gRPC metadata key for the identity id.
const DefaultMetadataKeyIdentityID = "x-identity-id"

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyIdentityID defaults to "x-identity-id".
	MetadataKeyIdentityID string
}

func DefaultConfig() *Config {
	return &Config{MetadataKeyIdentityID: DefaultMetadataKeyIdentityID}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyIdentityID == "" {
		c.MetadataKeyIdentityID = DefaultMetadataKeyIdentityID
	}
}

// IdentityIDFromContext returns the identity id of the caller, or "" when
// the call is anonymous.  Inside an interceptor-wrapped handler the resolved
// identity wins over raw metadata.
func IdentityIDFromContext(ctx context.Context) string {
	return IdentityIDFromContextWithConfig(ctx, nil)
}

func IdentityIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if user := fa.CurrentIdentity(ctx); user != nil {
		return user.ID
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyIdentityID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// IdentityIDToOutgoingContext adds the identity id to outgoing metadata.
func IdentityIDToOutgoingContext(ctx context.Context, identityID string) context.Context {
	return IdentityIDToOutgoingContextWithKey(ctx, identityID, DefaultMetadataKeyIdentityID)
}

func IdentityIDToOutgoingContextWithKey(ctx context.Context, identityID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, identityID)
}

// ForwardIdentity copies the identity bound to an HTTP request context into
// outgoing metadata.  Anonymous contexts are returned unchanged.
func ForwardIdentity(ctx context.Context) context.Context {
	user := fa.CurrentIdentity(ctx)
	if user == nil {
		return ctx
	}
	return IdentityIDToOutgoingContext(ctx, user.ID)
}

// IsAuthenticated returns true if the call carries an identity.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityIDFromContext(ctx) != ""
}
