package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	fa "github.com/panyam/fedauth"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but IdentityIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// Users, when set, loads the identity so handlers can call
	// fedauth.CurrentIdentity.  Ids that no longer exist are treated as
	// anonymous.
	Users  fa.UserStore
	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that processes auth metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that processes auth metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

// authorize resolves the caller and enforces RequireAuth for method.
func (config *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	identityID := extractIdentityID(ctx, config)
	if identityID != "" && config.Users != nil {
		user, err := config.Users.GetUserById(ctx, identityID)
		switch {
		case err == nil:
			ctx = fa.WithIdentity(ctx, user)
		case errors.Is(err, fa.ErrUserNotFound):
			config.Logger.Warn("grpc call for unknown identity", "method", method, "identity", identityID)
			identityID = ""
		default:
			config.Logger.Error("identity lookup failed", "method", method, "error", err)
			return ctx, status.Error(codes.Unavailable, "identity store unavailable")
		}
	}

	if config.RequireAuth && !config.PublicMethods[method] && identityID == "" {
		return ctx, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

func extractIdentityID(ctx context.Context, config *InterceptorConfig) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.Config.MetadataKeyIdentityID); len(values) > 0 {
		return values[0]
	}
	return ""
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}
