package authkit

import (
	"context"
	"net/http"
	"strings"
)

type sessionContextKey struct{}

// Middleware wraps a handler. It either writes a response itself or calls
// the next handler.
type Middleware func(next http.Handler) http.Handler

// Sequence composes middlewares so the first one listed runs first and the
// last one falls through to the wrapped handler.
func Sequence(mws ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session attached by Auth.Middleware, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

// Middleware serves the auth routes and, for every other request, attaches
// the current session (if any) to the request context.
func (a *Auth) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.ownsPath(r.URL.Path) {
				a.router.ServeHTTP(w, r)
				return
			}
			s, err := a.DecodeSession(r.Context(), a.SessionToken(r))
			if err != nil {
				a.log.Warn("failed to resolve session", "error", err)
			}
			if s != nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Auth) ownsPath(path string) bool {
	return path == a.cfg.BasePath || strings.HasPrefix(path, a.cfg.BasePath+"/")
}

// ProtectConfig lists which paths need a session. Entries ending in "*"
// match by prefix, others match exactly.
type ProtectConfig struct {
	// PublicRoutes always pass, even when they also match ProtectedRoutes.
	PublicRoutes []string

	// ProtectedRoutes need a session. When empty every request passes.
	ProtectedRoutes []string

	// SignInURL receives unauthenticated browsers. Defaults to the sign-in page.
	SignInURL string

	// CallbackURLParam names the query parameter carrying the original path.
	// Defaults to "callbackUrl".
	CallbackURLParam string
}

// MatchRoute reports whether path matches pattern: a prefix match when
// pattern ends in "*", exact otherwise.
func MatchRoute(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchRoute(p, path) {
			return true
		}
	}
	return false
}

// Protect enforces route protection. Requests for protected paths without a
// session are redirected to the sign-in page, or get a 401 JSON response
// when they ask for JSON.
func (a *Auth) Protect(cfg ProtectConfig) Middleware {
	if cfg.SignInURL == "" {
		cfg.SignInURL = a.signInPage()
	}
	if cfg.CallbackURLParam == "" {
		cfg.CallbackURLParam = "callbackUrl"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if matchAny(cfg.PublicRoutes, path) || !matchAny(cfg.ProtectedRoutes, path) {
				next.ServeHTTP(w, r)
				return
			}

			s, err := a.Session(r)
			if err != nil {
				a.internalError(w, "failed to resolve session", err)
				return
			}
			if s != nil {
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
				return
			}

			if strings.Contains(r.Header.Get("Accept"), "application/json") {
				writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
				return
			}
			http.Redirect(w, r, withQuery(cfg.SignInURL, cfg.CallbackURLParam, r.URL.RequestURI()), http.StatusFound)
		})
	}
}

// RequireSession is Protect for every path.
func (a *Auth) RequireSession() Middleware {
	return a.Protect(ProtectConfig{ProtectedRoutes: []string{"/*"}})
}
