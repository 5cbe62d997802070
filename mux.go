package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/panyam/authkit/secure"
)

// Auth is the authentication state machine. It serves the auth routes under
// Config.BasePath and resolves sessions for downstream handlers.
type Auth struct {
	cfg       Config
	codec     *SessionCodec
	router    *mux.Router
	providers map[string]Provider
	ext       Extensions
	log       *slog.Logger
}

// New resolves cfg and builds the route table. The returned Auth does not
// observe later changes to cfg.
func New(cfg Config) (*Auth, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Auth{
		cfg:       cfg,
		codec:     NewSessionCodec(cfg.Secret, cfg.Clock),
		providers: make(map[string]Provider, len(cfg.Providers)),
		ext:       ProbeExtensions(cfg.Adapter),
		log:       cfg.Logger.With("component", "authkit"),
	}
	for _, p := range cfg.Providers {
		a.providers[p.Info().ID] = p
	}
	a.setupRoutes()
	return a, nil
}

func (a *Auth) setupRoutes() {
	a.router = mux.NewRouter()
	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	sub := a.router.PathPrefix(a.cfg.BasePath).Subrouter()
	sub.HandleFunc("/signin", a.handleSignInPage).Methods(http.MethodGet)
	sub.HandleFunc("/signin/{provider}", a.handleSignInStart).Methods(http.MethodGet)
	sub.HandleFunc("/signin/{provider}", a.handleSignInSubmit).Methods(http.MethodPost)
	sub.HandleFunc("/callback/{provider}", a.handleCallback).Methods(http.MethodGet)
	sub.HandleFunc("/signout", a.handleSignOut).Methods(http.MethodGet, http.MethodPost)
	sub.HandleFunc("/session", a.handleSession).Methods(http.MethodGet)
	sub.HandleFunc("/providers", a.handleProviders).Methods(http.MethodGet)
	sub.HandleFunc("/csrf", a.handleCSRF).Methods(http.MethodGet)
	sub.HandleFunc("/verify-request", a.handleVerifyRequest).Methods(http.MethodGet)
}

// Handler serves the auth routes. Mount it at the root of a server, or
// under BasePath without stripping the prefix.
func (a *Auth) Handler() http.Handler {
	return a.router
}

// ServeHTTP makes Auth usable directly as a handler.
func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// BasePath is the resolved mount point of the auth routes.
func (a *Auth) BasePath() string { return a.cfg.BasePath }

// Codec returns the session codec used for jwt sessions.
func (a *Auth) Codec() *SessionCodec { return a.codec }

// Logger returns the logger Auth writes to.
func (a *Auth) Logger() *slog.Logger { return a.log }

// baseURL is the configured public origin or one derived from r.
func (a *Auth) baseURL(r *http.Request) string {
	if a.cfg.BaseURL != "" {
		return a.cfg.BaseURL
	}
	if r == nil {
		return ""
	}
	return RequestOrigin(r)
}

// RequestOrigin derives scheme://host from r, honoring X-Forwarded-Proto
// and X-Forwarded-Host.
func RequestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

func (a *Auth) routeURL(r *http.Request, parts ...string) string {
	return a.baseURL(r) + a.cfg.BasePath + "/" + strings.Join(parts, "/")
}

func (a *Auth) provider(r *http.Request) (Provider, bool) {
	p, ok := a.providers[mux.Vars(r)["provider"]]
	return p, ok
}

// random returns n bytes of entropy from Config.Random, base64url encoded.
func (a *Auth) random(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(a.cfg.Random, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return secure.Base64URLEncode(b), nil
}

func (a *Auth) debug(msg string, args ...any) {
	if a.cfg.Debug {
		a.log.Debug(msg, args...)
	}
}

// redirect runs target through the Redirect callback before redirecting.
func (a *Auth) redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, a.cfg.Callbacks.Redirect(target, a.baseURL(r)), http.StatusFound)
}

// errorRedirect sends the user to the error page, or the sign-in page when
// none is configured, with ?error=code.
func (a *Auth) errorRedirect(w http.ResponseWriter, r *http.Request, code string) {
	page := a.cfg.Pages.Error
	if page == "" {
		page = a.signInPage()
	}
	http.Redirect(w, r, withQuery(page, "error", code), http.StatusFound)
}

// upstreamFailure handles provider errors: error page redirect when one is
// configured, 500 otherwise.
func (a *Auth) upstreamFailure(w http.ResponseWriter, r *http.Request, code string, err error) {
	a.log.Warn("oauth upstream failure", "code", code, "error", err)
	if a.cfg.Pages.Error != "" {
		http.Redirect(w, r, withQuery(a.cfg.Pages.Error, "error", code), http.StatusFound)
		return
	}
	writeError(w, http.StatusInternalServerError, "authentication with provider failed", code)
}

func (a *Auth) signInPage() string {
	if a.cfg.Pages.SignIn != "" {
		return a.cfg.Pages.SignIn
	}
	return a.cfg.BasePath + "/signin"
}

func withQuery(target, key, value string) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

func withRawQuery(target, rawQuery string) string {
	if strings.Contains(target, "?") {
		return target + "&" + rawQuery
	}
	return target + "?" + rawQuery
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// internalError logs err and writes a generic 500. Adapter error codes are
// passed through.
func (a *Auth) internalError(w http.ResponseWriter, msg string, err error) {
	a.log.Error(msg, "error", err)
	code := "INTERNAL_ERROR"
	var ae *AdapterError
	if errors.As(err, &ae) {
		code = string(ae.Code)
	}
	writeError(w, http.StatusInternalServerError, msg, code)
}

// Session returns the current session of r, or nil. It does not refresh.
func (a *Auth) Session(r *http.Request) (*Session, error) {
	if s := SessionFromContext(r.Context()); s != nil {
		return s, nil
	}
	return a.DecodeSession(r.Context(), a.SessionToken(r))
}

// DecodeSession resolves a session cookie value: a signed token under the
// jwt strategy or a session token under the database strategy. A missing,
// bad or expired session yields (nil, nil).
func (a *Auth) DecodeSession(ctx context.Context, tok string) (*Session, error) {
	if tok == "" {
		return nil, nil
	}
	if a.cfg.Session.Strategy == StrategyJWT {
		s := a.codec.Decode(tok)
		if s == nil {
			a.debug("session token rejected")
		}
		return s, nil
	}
	rec, user, err := a.cfg.Adapter.GetSessionAndUser(ctx, tok)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Session{User: user, Expires: rec.Expires, IssuedAt: rec.Expires.Add(-a.cfg.Session.MaxAge)}, nil
}

// issueSession creates a session for user and binds it to the response.
func (a *Auth) issueSession(w http.ResponseWriter, r *http.Request, user *User, account *Account, profile map[string]any) error {
	ctx := r.Context()
	if a.cfg.Session.Strategy == StrategyDatabase {
		tok, err := a.random(32)
		if err != nil {
			return err
		}
		now := a.cfg.Clock()
		rec, err := a.cfg.Adapter.CreateSession(ctx, &SessionRecord{
			SessionToken: tok,
			UserID:       user.ID,
			Expires:      now.Add(a.cfg.Session.MaxAge),
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		a.setSessionCookie(w, r, rec.SessionToken)
		return nil
	}

	s := a.codec.NewSession(user, a.cfg.Session.MaxAge)
	if account != nil {
		s.AccessToken = account.AccessToken
		s.RefreshToken = account.RefreshToken
	}
	if a.cfg.Callbacks.JWT != nil {
		err := a.cfg.Callbacks.JWT(ctx, s, JWTParams{Trigger: "signIn", User: user, Account: account, Profile: profile})
		if err != nil {
			return fmt.Errorf("jwt callback: %w", err)
		}
	}
	tok, err := a.codec.Encode(s, a.cfg.Session.MaxAge)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	a.setSessionCookie(w, r, tok)
	return nil
}

// runSignIn applies the SignIn callback. It returns false when the response
// has been written.
func (a *Auth) runSignIn(w http.ResponseWriter, r *http.Request, p SignInParams) bool {
	if a.cfg.Callbacks.SignIn == nil {
		return true
	}
	res := a.cfg.Callbacks.SignIn(r.Context(), p)
	switch {
	case res.deny:
		a.errorRedirect(w, r, ErrorAccessDenied)
		return false
	case res.redirect != "":
		a.redirect(w, r, res.redirect)
		return false
	}
	return true
}
