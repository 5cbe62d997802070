package authkit

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/panyam/authkit/secure"
)

// handleCallback is GET /callback/{provider}.
func (a *Auth) handleCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := a.provider(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider", "PROVIDER_NOT_FOUND")
		return
	}
	switch p := p.(type) {
	case *OAuthProvider:
		a.oauthCallback(w, r, p)
	case *EmailProvider:
		a.signInEmailCallback(w, r, p)
	case *CredentialsProvider:
		writeError(w, http.StatusBadRequest, "credentials providers have no callback", "UNSUPPORTED_METHOD")
	}
}

func (a *Auth) oauthCallback(w http.ResponseWriter, r *http.Request, p *OAuthProvider) {
	ctx := r.Context()
	names := a.cookieNames(r)
	q := r.URL.Query()

	// state and callback-url cookies are single use whatever happens next
	expected := cookieValue(r, names.state)
	a.clearCookie(w, r, names.state)
	target := cookieValue(r, names.callbackURL)
	if target != "" {
		a.clearCookie(w, r, names.callbackURL)
	}
	sealedVerifier := cookieValue(r, names.pkce)
	if sealedVerifier != "" {
		a.clearCookie(w, r, names.pkce)
	}

	if e := q.Get("error"); e != "" {
		a.log.Warn("provider returned an error", "provider", p.ID, "error", e, "description", q.Get("error_description"))
		a.upstreamFailure(w, r, ErrorOAuthCallback, fmt.Errorf("provider error %q", e))
		return
	}

	state := q.Get("state")
	if expected == "" || state == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		writeError(w, http.StatusBadRequest, "invalid oauth state", "STATE_MISMATCH")
		return
	}

	var verifier string
	if p.PKCE {
		plain, err := secure.Decrypt(sealedVerifier, a.cfg.Secret)
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing or invalid code verifier", "PKCE_MISMATCH")
			return
		}
		verifier = string(plain)
	}

	tok, err := a.exchange(ctx, r, p, q.Get("code"), verifier)
	if err != nil {
		a.upstreamFailure(w, r, ErrorOAuthCallback, err)
		return
	}

	profile := a.fetchProfile(ctx, r, p, tok)
	mapped, err := p.Profile(profile, tok)
	if err != nil || mapped == nil {
		a.upstreamFailure(w, r, ErrorOAuthCallback, err)
		return
	}
	if mapped.ID == "" {
		a.upstreamFailure(w, r, ErrorOAuthCallback, errors.New("profile has no account id"))
		return
	}
	account := accountFromToken(p, mapped.ID, tok)

	if !a.runSignIn(w, r, SignInParams{User: mapped, Account: account, Profile: profile, Provider: p.Info()}) {
		return
	}

	user, isNew := mapped, false
	if a.cfg.Adapter != nil {
		var code string
		user, isNew, code, err = a.materializeOAuthUser(r, p, mapped, account)
		if code != "" {
			a.errorRedirect(w, r, code)
			return
		}
		if err != nil {
			a.internalError(w, "failed to save user", err)
			return
		}
		account.UserID = user.ID
	}

	if err := a.issueSession(w, r, user, account, profile); err != nil {
		a.internalError(w, "failed to issue session", err)
		return
	}

	if isNew && a.cfg.Pages.NewUser != "" {
		target = a.cfg.Pages.NewUser
	}
	if target == "" {
		target = "/"
	}
	a.redirect(w, r, target)
}

// materializeOAuthUser finds or creates the local user for an OAuth sign-in.
// A non-empty code means the sign-in is refused with that error code.
func (a *Auth) materializeOAuthUser(r *http.Request, p *OAuthProvider, mapped *User, account *Account) (user *User, isNew bool, code string, err error) {
	ctx := r.Context()
	adapter := a.cfg.Adapter
	key := AccountKey{Provider: p.ID, ProviderAccountID: account.ProviderAccountID}

	user, err = adapter.GetUserByAccount(ctx, key)
	if err == nil {
		if a.ext.Updater != nil {
			if existing, gerr := adapter.GetAccount(ctx, key); gerr == nil {
				_, uerr := a.ext.Updater.UpdateAccount(ctx, existing.ID, AccountPatch{
					AccessToken:  &account.AccessToken,
					RefreshToken: &account.RefreshToken,
					ExpiresAt:    account.ExpiresAt,
					Scope:        &account.Scope,
					IDToken:      &account.IDToken,
				})
				if uerr != nil {
					a.log.Warn("failed to refresh account tokens", "provider", p.ID, "error", uerr)
				}
			}
		}
		return user, false, "", nil
	}
	if !IsNotFound(err) {
		return nil, false, "", err
	}

	if mapped.Email != "" {
		owner, err := adapter.GetUserByEmail(ctx, mapped.Email)
		switch {
		case err == nil:
			if !p.AllowDangerousEmailAccountLinking {
				return nil, false, ErrorOAuthAccountNotLinked, nil
			}
			account.UserID = owner.ID
			if _, err := adapter.LinkAccount(ctx, account); err != nil {
				return nil, false, "", err
			}
			return owner, false, "", nil
		case !IsNotFound(err):
			return nil, false, "", err
		}
	}

	candidate := mapped.Clone()
	candidate.ID = ""
	user, err = adapter.CreateUser(ctx, candidate)
	if err != nil {
		return nil, false, "", err
	}
	account.UserID = user.ID
	if _, err := adapter.LinkAccount(ctx, account); err != nil {
		return nil, false, "", err
	}
	return user, true, "", nil
}
