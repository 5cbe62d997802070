// Package grpc carries authkit sessions across gRPC boundaries.
//
// Clients attach the session token (the same value the HTTP session cookie
// holds) as outgoing metadata. Servers install UnaryAuthInterceptor or
// StreamAuthInterceptor, which decode the token through a SessionDecoder
// such as *authkit.Auth and place the resulting session on the handler's
// context.
package grpc

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/authkit"
)

const (
	// DefaultMetadataKeyAuthorization carries "Bearer <token>".
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeySession carries the bare session token.
	DefaultMetadataKeySession = "x-session-token"

	bearerPrefix = "bearer "
)

// Config names the metadata keys used to find the session token.
type Config struct {
	// MetadataKeySession is checked first. Default: "x-session-token".
	MetadataKeySession string

	// MetadataKeyAuthorization is checked for a Bearer token when the
	// session key is absent. Default: "authorization".
	MetadataKeyAuthorization string
}

// DefaultConfig returns a Config with default keys.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeySession:       DefaultMetadataKeySession,
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
	}
}

// EnsureDefaults fills empty fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySession == "" {
		c.MetadataKeySession = DefaultMetadataKeySession
	}
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// TokenFromContext extracts the session token from incoming metadata using
// default keys.
func TokenFromContext(ctx context.Context) string {
	return TokenFromContextWithConfig(ctx, nil)
}

// TokenFromContextWithConfig extracts the session token from incoming
// metadata. It returns "" when neither key carries a token.
func TokenFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.EnsureDefaults()
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(config.MetadataKeySession); len(v) > 0 && v[0] != "" {
		return v[0]
	}
	for _, v := range md.Get(config.MetadataKeyAuthorization) {
		if len(v) > len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(v[len(bearerPrefix):])
		}
	}
	return ""
}

// TokenToOutgoingContext attaches tok as a Bearer authorization header for
// outgoing calls.
func TokenToOutgoingContext(ctx context.Context, tok string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+tok)
}

// TokenToOutgoingContextWithKey attaches tok under a custom metadata key.
func TokenToOutgoingContextWithKey(ctx context.Context, tok, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, tok)
}

// ForwardSession copies the session cookie of r onto an outgoing context so
// an HTTP handler can call a gRPC backend on the user's behalf. ctx is
// returned unchanged when r carries no session.
func ForwardSession(ctx context.Context, a *authkit.Auth, r *http.Request) context.Context {
	tok := a.SessionToken(r)
	if tok == "" {
		return ctx
	}
	return TokenToOutgoingContext(ctx, tok)
}

// SessionFromContext returns the session an interceptor attached, or nil.
func SessionFromContext(ctx context.Context) *authkit.Session {
	return authkit.SessionFromContext(ctx)
}

// UserIDFromContext returns the signed-in user's ID, or "".
func UserIDFromContext(ctx context.Context) string {
	s := authkit.SessionFromContext(ctx)
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// IsAuthenticated reports whether ctx carries a session with a user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
