package authkit

import (
	"net/http"
	"strings"
	"time"
)

const (
	stateMaxAge = 15 * time.Minute
	csrfMaxAge  = time.Hour
)

type cookieNames struct {
	session     string
	state       string
	callbackURL string
	pkce        string
	csrf        string
}

// secureCookies decides the Secure attribute for r: the forced setting, else
// whether the base URL is https.
func (a *Auth) secureCookies(r *http.Request) bool {
	if a.cfg.Cookies.Secure != nil {
		return *a.cfg.Cookies.Secure
	}
	return strings.HasPrefix(a.baseURL(r), "https://")
}

func (a *Auth) cookieNames(r *http.Request) cookieNames {
	prefix := ""
	if a.secureCookies(r) {
		prefix = "__Secure-"
	}
	name := prefix + a.cfg.Cookies.Name
	return cookieNames{
		session:     name + ".session-token",
		state:       name + ".state",
		callbackURL: name + ".callback-url",
		pkce:        name + ".pkce",
		csrf:        name + ".csrf-token",
	}
}

func (a *Auth) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.Cookies.Domain,
		MaxAge:   int(maxAge / time.Second),
		Expires:  a.cfg.Clock().Add(maxAge),
		HttpOnly: true,
		Secure:   a.secureCookies(r),
		SameSite: sameSite,
	})
}

func (a *Auth) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   a.cfg.Cookies.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.secureCookies(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookie binds a session token to the response.
func (a *Auth) setSessionCookie(w http.ResponseWriter, r *http.Request, value string) {
	a.setCookie(w, r, a.cookieNames(r).session, value, a.cfg.Session.MaxAge, http.SameSiteLaxMode)
}

// SessionToken returns the raw session cookie value of r, or "".
func (a *Auth) SessionToken(r *http.Request) string {
	return cookieValue(r, a.cookieNames(r).session)
}
