package authkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ParseForm reads string fields from a form-urlencoded, multipart or JSON
// body. Non-string JSON values are skipped.
func ParseForm(r *http.Request) (map[string]string, error) {
	contentType := r.Header.Get("Content-Type")
	out := map[string]string{}

	if strings.HasPrefix(contentType, "application/json") {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, fmt.Errorf("invalid post body")
		}
		for k, v := range data {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out, nil
	}

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, fmt.Errorf("error parsing form")
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("error parsing form")
	}
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	return out, nil
}

// handleSignInSubmit is POST /signin/{provider}.
func (a *Auth) handleSignInSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := a.provider(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider", "PROVIDER_NOT_FOUND")
		return
	}
	form, err := ParseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		return
	}
	if a.cfg.RequireCSRF && !a.checkCSRF(r, form["csrfToken"]) {
		writeError(w, http.StatusForbidden, "missing or invalid csrf token", "CSRF_MISMATCH")
		return
	}

	switch p := p.(type) {
	case *CredentialsProvider:
		a.signInCredentials(w, r, p, form)
	case *EmailProvider:
		a.signInEmail(w, r, p, form)
	case *OAuthProvider:
		writeError(w, http.StatusBadRequest, "oauth providers sign in with GET", "UNSUPPORTED_METHOD")
	}
}

func (a *Auth) signInCredentials(w http.ResponseWriter, r *http.Request, p *CredentialsProvider, form map[string]string) {
	callbackURL := form["callbackUrl"]
	creds := make(map[string]string, len(form))
	for k, v := range form {
		if k != "csrfToken" && k != "callbackUrl" {
			creds[k] = v
		}
	}

	user, err := p.Authorize(r.Context(), creds, r)
	if err != nil {
		a.internalError(w, "credentials authorization failed", err)
		return
	}
	if user == nil {
		a.debug("credentials rejected", "provider", p.ID)
		http.Redirect(w, r, withQuery(a.signInPage(), "error", ErrorCredentialsSignin), http.StatusFound)
		return
	}

	account := &Account{
		UserID:            user.ID,
		Provider:          p.ID,
		ProviderAccountID: user.ID,
		Type:              AccountTypeCredentials,
	}
	if !a.runSignIn(w, r, SignInParams{User: user, Account: account, Provider: p.Info()}) {
		return
	}
	if err := a.issueSession(w, r, user, nil, nil); err != nil {
		a.internalError(w, "failed to issue session", err)
		return
	}
	if callbackURL == "" {
		callbackURL = "/"
	}
	a.redirect(w, r, callbackURL)
}

// signInEmail stores a verification token and sends the magic link.
func (a *Auth) signInEmail(w http.ResponseWriter, r *http.Request, p *EmailProvider, form map[string]string) {
	email := strings.ToLower(strings.TrimSpace(form["email"]))
	if email == "" || !strings.Contains(email, "@") {
		http.Redirect(w, r, withQuery(a.signInPage(), "error", "EmailSignin"), http.StatusFound)
		return
	}

	tok, err := a.random(32)
	if err != nil {
		a.internalError(w, "failed to generate token", err)
		return
	}
	_, err = a.cfg.Adapter.CreateVerificationToken(r.Context(), &VerificationToken{
		Identifier: email,
		Token:      tok,
		Expires:    a.cfg.Clock().Add(p.MaxAge),
	})
	if err != nil {
		a.internalError(w, "failed to store verification token", err)
		return
	}

	link := a.routeURL(r, "callback", p.ID) + "?token=" + tok + "&email=" + url.QueryEscape(email)
	if cb := form["callbackUrl"]; cb != "" {
		link += "&callbackUrl=" + url.QueryEscape(cb)
	}
	if err := p.Send(r.Context(), email, link); err != nil {
		a.log.Error("failed to send verification email", "provider", p.ID, "error", err)
		a.errorRedirect(w, r, "EmailSignin")
		return
	}

	target := a.cfg.Pages.VerifyRequest
	if target == "" {
		target = a.cfg.BasePath + "/verify-request"
	}
	http.Redirect(w, r, withQuery(target, "provider", p.ID), http.StatusFound)
}

// signInEmailCallback consumes the magic link token and signs the user in.
func (a *Auth) signInEmailCallback(w http.ResponseWriter, r *http.Request, p *EmailProvider) {
	q := r.URL.Query()
	email := strings.ToLower(strings.TrimSpace(q.Get("email")))
	tok := q.Get("token")
	if email == "" || tok == "" {
		a.errorRedirect(w, r, ErrorVerification)
		return
	}

	ctx := r.Context()
	if _, err := a.cfg.Adapter.UseVerificationToken(ctx, email, tok); err != nil {
		if IsNotFound(err) {
			a.errorRedirect(w, r, ErrorVerification)
			return
		}
		a.internalError(w, "failed to use verification token", err)
		return
	}

	now := a.cfg.Clock()
	isNew := false
	user, err := a.cfg.Adapter.GetUserByEmail(ctx, email)
	switch {
	case IsNotFound(err):
		candidate := &User{Email: email, EmailVerified: &now}
		if !a.runSignIn(w, r, SignInParams{User: candidate, Provider: p.Info()}) {
			return
		}
		user, err = a.cfg.Adapter.CreateUser(ctx, candidate)
		isNew = true
	case err == nil:
		if !a.runSignIn(w, r, SignInParams{User: user, Provider: p.Info()}) {
			return
		}
		if user.EmailVerified == nil {
			user, err = a.cfg.Adapter.UpdateUser(ctx, &User{ID: user.ID, EmailVerified: &now})
		}
	}
	if err != nil {
		a.internalError(w, "failed to load user", err)
		return
	}

	key := AccountKey{Provider: p.ID, ProviderAccountID: email}
	if _, err := a.cfg.Adapter.GetAccount(ctx, key); IsNotFound(err) {
		_, err = a.cfg.Adapter.LinkAccount(ctx, &Account{
			UserID:            user.ID,
			Provider:          p.ID,
			ProviderAccountID: email,
			Type:              AccountTypeEmail,
		})
		if err != nil && !HasCode(err, ErrCodeAccountAlreadyLinked) {
			a.internalError(w, "failed to link account", err)
			return
		}
	}

	if err := a.issueSession(w, r, user, nil, nil); err != nil {
		a.internalError(w, "failed to issue session", err)
		return
	}
	target := q.Get("callbackUrl")
	if isNew && a.cfg.Pages.NewUser != "" {
		target = a.cfg.Pages.NewUser
	}
	if target == "" {
		target = "/"
	}
	a.redirect(w, r, target)
}
