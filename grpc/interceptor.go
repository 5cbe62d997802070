package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/authkit"
)

// SessionDecoder resolves a session token. A missing, bad or expired token
// yields (nil, nil). *authkit.Auth implements it.
type SessionDecoder interface {
	DecodeSession(ctx context.Context, tok string) (*authkit.Session, error)
}

var _ SessionDecoder = (*authkit.Auth)(nil)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// RequireAuth when true rejects requests without a valid session.
	// When false, requests proceed and SessionFromContext returns nil.
	RequireAuth bool

	// PublicMethods skip the RequireAuth check. Keys are full method names
	// like "/package.Service/Method".
	PublicMethods map[string]bool

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

func (c *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig()
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = map[string]bool{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// authenticate decodes the session of an incoming call and returns the
// context handlers should see.
func authenticate(ctx context.Context, decoder SessionDecoder, config *InterceptorConfig, method string) (context.Context, error) {
	var sess *authkit.Session
	if tok := TokenFromContextWithConfig(ctx, config.Config); tok != "" {
		s, err := decoder.DecodeSession(ctx, tok)
		if err != nil {
			config.Logger.Error("session decode failed", "method", method, "error", err)
			return nil, status.Error(codes.Internal, "session lookup failed")
		}
		sess = s
	}

	if sess == nil || sess.User == nil {
		if config.RequireAuth && !config.PublicMethods[method] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return authkit.WithSession(ctx, sess), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that attaches the
// caller's session to the handler context.
func UnaryAuthInterceptor(decoder SessionDecoder, config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, decoder, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that attaches the
// caller's session to the stream context.
func StreamAuthInterceptor(decoder SessionDecoder, config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), decoder, config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &sessionStream{ServerStream: ss, ctx: ctx})
	}
}

type sessionStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *sessionStream) Context() context.Context {
	return s.ctx
}
