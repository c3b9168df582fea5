package grpc

import (
	"context"
	"fmt"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	fa "github.com/panyam/fedauth"
	"github.com/panyam/fedauth/stores/fs"
)

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig()
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil {
		t.Error("expected Config to be initialized")
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig("/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestOptionalAuthConfig(t *testing.T) {
	if OptionalAuthConfig().RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func withIdentity(id string) context.Context {
	md := metadata.Pairs(DefaultMetadataKeyIdentityID, id)
	return metadata.NewIncomingContext(context.Background(), md)
}

func expectCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error", code)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != code {
		t.Errorf("expected %v code, got %v", code, st.Code())
	}
}

func TestUnaryAuthInterceptor_RequireAuth_NoUser(t *testing.T) {
	interceptor := UnaryAuthInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_RequireAuth_WithUser(t *testing.T) {
	interceptor := UnaryAuthInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var seen string
	_, err := interceptor(withIdentity("user123"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = IdentityIDFromContext(ctx)
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "user123" {
		t.Errorf("expected handler to see user123, got %q", seen)
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig("/pkg.Svc/PublicMethod"))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/PublicMethod"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public method: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig())
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error with optional auth: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called with optional auth")
	}
}

func TestUnaryAuthInterceptor_ResolvesIdentity(t *testing.T) {
	users := fs.NewUserStore(t.TempDir())
	alice, _, err := users.FindOrCreateExternal(context.Background(), "google", "g-42")
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}

	config := DefaultInterceptorConfig()
	config.Users = users
	interceptor := UnaryAuthInterceptor(config)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	t.Run("known identity is loaded", func(t *testing.T) {
		var current *fa.UserIdentity
		_, err := interceptor(withIdentity(alice.ID), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			current = fa.CurrentIdentity(ctx)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if current == nil || current.ExternalID("google") != "g-42" {
			t.Errorf("expected resolved identity, got %+v", current)
		}
	})

	t.Run("unknown identity is unauthenticated", func(t *testing.T) {
		_, err := interceptor(withIdentity("deleted-user"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			t.Error("handler should not be called")
			return nil, nil
		})
		expectCode(t, err, codes.Unauthenticated)
	})
}

type unavailableStore struct {
	fa.UserStore
}

func (unavailableStore) GetUserById(ctx context.Context, id string) (*fa.UserIdentity, error) {
	return nil, fmt.Errorf("%w: connection refused", fa.ErrStoreUnavailable)
}

func TestUnaryAuthInterceptor_StoreUnavailable(t *testing.T) {
	config := OptionalAuthConfig()
	config.Users = unavailableStore{}
	interceptor := UnaryAuthInterceptor(config)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withIdentity("user123"), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unavailable)
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) SendMsg(interface{}) error    { return nil }
func (m *mockServerStream) RecvMsg(interface{}) error    { return nil }

func TestStreamAuthInterceptor_RequireAuth_NoUser(t *testing.T) {
	interceptor := StreamAuthInterceptor(nil)
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	err := interceptor(nil, stream, info, func(srv interface{}, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestStreamAuthInterceptor_ResolvedIdentityOnStream(t *testing.T) {
	users := fs.NewUserStore(t.TempDir())
	bob, _, err := users.FindOrCreateExternal(context.Background(), "github", "583231")
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}

	config := DefaultInterceptorConfig()
	config.Users = users
	interceptor := StreamAuthInterceptor(config)
	stream := &mockServerStream{ctx: withIdentity(bob.ID)}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	var current *fa.UserIdentity
	err = interceptor(nil, stream, info, func(srv interface{}, ss grpc.ServerStream) error {
		current = fa.CurrentIdentity(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current == nil || current.ID != bob.ID {
		t.Errorf("expected stream context to carry the identity, got %+v", current)
	}
}

func TestStreamAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := StreamAuthInterceptor(NewPublicMethodsConfig("/pkg.Svc/PublicStream"))
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/PublicStream"}

	handlerCalled := false
	err := interceptor(nil, stream, info, func(srv interface{}, ss grpc.ServerStream) error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public stream: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public stream")
	}
}
