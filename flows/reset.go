package flows

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/password"
)

// RequestPasswordReset emails a reset link for login. Unknown logins return
// nil so callers cannot probe for accounts.
func (f *Flows) RequestPasswordReset(ctx context.Context, login string, r *http.Request) error {
	login = authkit.NormalizeLogin(login)
	if login == "" {
		return ErrUnknownLogin
	}
	if err := f.throttle(ctx, ResetPrefix+login); err != nil {
		return err
	}
	acct, err := f.account(ctx, login)
	if errors.Is(err, ErrUnknownLogin) {
		f.log.DebugContext(ctx, "password reset for unknown login", "login", login)
		return nil
	} else if err != nil {
		return err
	}

	tok, err := f.newToken()
	if err != nil {
		return err
	}
	link, err := f.linkURL(r, "reset-password", url.Values{"login": {login}, "token": {tok}})
	if err != nil {
		return err
	}
	if _, err := f.cfg.Adapter.CreateVerificationToken(ctx, &authkit.VerificationToken{
		Identifier: ResetPrefix + login,
		Token:      tok,
		Expires:    f.cfg.Clock().Add(f.cfg.ResetMaxAge),
	}); err != nil {
		return err
	}

	to := f.recipient(ctx, login, acct)
	if to == "" {
		f.log.WarnContext(ctx, "no email address for password reset", "login", login)
		return nil
	}
	if err := f.cfg.Sender.SendPasswordResetEmail(ctx, to, link); err != nil {
		f.log.ErrorContext(ctx, "sending password reset email failed", "to", to, "error", err)
		return err
	}
	return nil
}

// CheckResetToken reports whether token is a live reset token for login
// without consuming it.
func (f *Flows) CheckResetToken(ctx context.Context, login, token string) error {
	if f.ext.TokenFinder == nil {
		return &authkit.ConfigurationError{Dependency: "VerificationTokenFinder", Message: "adapter cannot look up tokens without consuming them"}
	}
	login = authkit.NormalizeLogin(login)
	if login == "" || token == "" {
		return ErrInvalidToken
	}
	if _, err := f.ext.TokenFinder.GetVerificationToken(ctx, ResetPrefix+login, token); err != nil {
		if authkit.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

// ResetPassword checks newPassword against the policy, consumes the token
// and stores the new hash. A policy failure leaves the token usable.
func (f *Flows) ResetPassword(ctx context.Context, login, token, newPassword string) error {
	if err := f.checkPolicy(newPassword); err != nil {
		return err
	}
	login = authkit.NormalizeLogin(login)
	if login == "" || token == "" {
		return ErrInvalidToken
	}
	if _, err := f.cfg.Adapter.UseVerificationToken(ctx, ResetPrefix+login, token); err != nil {
		if authkit.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}

	acct, err := f.account(ctx, login)
	if err != nil {
		return err
	}
	h, err := password.Hash(newPassword, f.cfg.Hash)
	if err != nil {
		return err
	}
	patch := authkit.AccountPatch{PasswordHash: &h}
	if acct.LoginVerified == nil {
		// the emailed link proves control of the login
		now := f.cfg.Clock()
		patch.LoginVerified = &now
	}
	if _, err := f.ext.Updater.UpdateAccount(ctx, acct.ID, patch); err != nil {
		return err
	}
	f.log.InfoContext(ctx, "password reset", "account", acct.ID)
	return nil
}
