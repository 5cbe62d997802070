package authkit

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/panyam/authkit/secure"
)

// handleSignOut is GET|POST /signout. With Pages.SignOut set, GET only
// redirects to that page and the page is expected to POST back.
func (a *Auth) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && a.cfg.Pages.SignOut != "" {
		target := a.cfg.Pages.SignOut
		if r.URL.RawQuery != "" {
			target = withRawQuery(target, r.URL.RawQuery)
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	var form map[string]string
	if r.Method == http.MethodPost {
		f, err := ParseForm(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
			return
		}
		form = f
		if a.cfg.RequireCSRF && !a.checkCSRF(r, form["csrfToken"]) {
			writeError(w, http.StatusForbidden, "missing or invalid csrf token", "CSRF_MISMATCH")
			return
		}
	}

	names := a.cookieNames(r)
	if tok := cookieValue(r, names.session); tok != "" && a.cfg.Session.Strategy == StrategyDatabase {
		if err := a.cfg.Adapter.DeleteSession(r.Context(), tok); err != nil && !IsNotFound(err) {
			a.internalError(w, "failed to delete session", err)
			return
		}
	}
	a.clearCookie(w, r, names.session)

	target := form["callbackUrl"]
	if target == "" {
		target = r.URL.Query().Get("callbackUrl")
	}
	if target == "" {
		target = "/"
	}
	a.redirect(w, r, target)
}

// handleSession is GET /session. Active sessions older than UpdateAge are
// reissued with a fresh expiry.
func (a *Auth) handleSession(w http.ResponseWriter, r *http.Request) {
	var (
		s   *Session
		err error
	)
	if a.cfg.Session.Strategy == StrategyDatabase {
		s, err = a.databaseSession(w, r)
	} else {
		s, err = a.jwtSession(w, r)
	}
	if err != nil {
		a.internalError(w, "failed to load session", err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil, "expires": nil})
		return
	}

	resp := map[string]any{
		"user":    s.User,
		"expires": s.Expires.UTC().Format(time.RFC3339),
	}
	if a.cfg.Callbacks.Session != nil {
		resp = a.cfg.Callbacks.Session(r.Context(), resp, s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Auth) jwtSession(w http.ResponseWriter, r *http.Request) (*Session, error) {
	tok := a.SessionToken(r)
	if tok == "" {
		return nil, nil
	}
	s := a.codec.Decode(tok)
	if s == nil {
		a.debug("clearing invalid session cookie")
		a.clearCookie(w, r, a.cookieNames(r).session)
		return nil, nil
	}
	if !a.codec.ShouldUpdate(s, a.cfg.Session.UpdateAge) {
		return s, nil
	}

	s = a.codec.Refresh(s, a.cfg.Session.MaxAge)
	if a.cfg.Callbacks.JWT != nil {
		if err := a.cfg.Callbacks.JWT(r.Context(), s, JWTParams{Trigger: "update"}); err != nil {
			return nil, err
		}
	}
	fresh, err := a.codec.Encode(s, a.cfg.Session.MaxAge)
	if err != nil {
		return nil, err
	}
	a.setSessionCookie(w, r, fresh)
	return s, nil
}

func (a *Auth) databaseSession(w http.ResponseWriter, r *http.Request) (*Session, error) {
	tok := a.SessionToken(r)
	if tok == "" {
		return nil, nil
	}
	ctx := r.Context()
	rec, user, err := a.cfg.Adapter.GetSessionAndUser(ctx, tok)
	if IsNotFound(err) {
		a.clearCookie(w, r, a.cookieNames(r).session)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := a.cfg.Clock()
	maxAge, updateAge := a.cfg.Session.MaxAge, a.cfg.Session.UpdateAge
	// the record was last extended at Expires - MaxAge
	if !now.Before(rec.Expires.Add(-maxAge).Add(updateAge)) {
		rec.Expires = now.Add(maxAge)
		if rec, err = a.cfg.Adapter.UpdateSession(ctx, rec); err != nil {
			return nil, err
		}
		a.setSessionCookie(w, r, tok)
	}
	return &Session{User: user, Expires: rec.Expires, IssuedAt: rec.Expires.Add(-maxAge)}, nil
}

// providerJSON is one entry of GET /providers.
type providerJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        ProviderKind `json:"type"`
	SignInURL   string       `json:"signinUrl"`
	CallbackURL string       `json:"callbackUrl"`
}

// handleProviders is GET /providers.
func (a *Auth) handleProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]providerJSON, 0, len(a.cfg.Providers))
	for _, p := range a.cfg.Providers {
		info := p.Info()
		out = append(out, providerJSON{
			ID:          info.ID,
			Name:        info.Name,
			Type:        info.Kind,
			SignInURL:   a.routeURL(r, "signin", info.ID),
			CallbackURL: a.routeURL(r, "callback", info.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCSRF is GET /csrf.
func (a *Auth) handleCSRF(w http.ResponseWriter, r *http.Request) {
	tok, err := a.ensureCSRF(w, r)
	if err != nil {
		a.internalError(w, "failed to issue csrf token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

// ensureCSRF returns the token in a valid CSRF cookie, or issues a new one.
// The cookie holds token|signature.
func (a *Auth) ensureCSRF(w http.ResponseWriter, r *http.Request) (string, error) {
	name := a.cookieNames(r).csrf
	if tok, ok := a.csrfFromCookie(r); ok {
		return tok, nil
	}
	tok, err := a.random(32)
	if err != nil {
		return "", err
	}
	a.setCookie(w, r, name, tok+"|"+secure.Sign(tok, a.cfg.Secret), csrfMaxAge, http.SameSiteStrictMode)
	return tok, nil
}

func (a *Auth) csrfFromCookie(r *http.Request) (string, bool) {
	raw := cookieValue(r, a.cookieNames(r).csrf)
	tok, sig, found := strings.Cut(raw, "|")
	if !found || tok == "" || !secure.Verify(tok, sig, a.cfg.Secret) {
		return "", false
	}
	return tok, true
}

// checkCSRF reports whether submitted matches the signed CSRF cookie.
func (a *Auth) checkCSRF(r *http.Request, submitted string) bool {
	tok, ok := a.csrfFromCookie(r)
	if !ok || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(submitted)) == 1
}
