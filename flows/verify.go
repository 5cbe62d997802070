package flows

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/panyam/authkit"
)

// CreateVerification issues a verification token for identifier and emails
// the link. r supplies the origin when Config.BaseURL is empty and may be nil.
func (f *Flows) CreateVerification(ctx context.Context, identifier string, r *http.Request) error {
	identifier = authkit.NormalizeLogin(identifier)
	tok, err := f.newToken()
	if err != nil {
		return err
	}
	link, err := f.linkURL(r, "verify-email", url.Values{"identifier": {identifier}, "token": {tok}})
	if err != nil {
		return err
	}
	if _, err := f.cfg.Adapter.CreateVerificationToken(ctx, &authkit.VerificationToken{
		Identifier: identifier,
		Token:      tok,
		Expires:    f.cfg.Clock().Add(f.cfg.VerificationMaxAge),
	}); err != nil {
		return err
	}

	to := identifier
	if authkit.DetectLoginType(identifier) != authkit.LoginEmail {
		acct, _ := f.account(ctx, identifier)
		to = f.recipient(ctx, identifier, acct)
	}
	if to == "" {
		f.log.WarnContext(ctx, "no email address for verification", "identifier", identifier)
		return nil
	}
	if err := f.cfg.Sender.SendVerificationEmail(ctx, to, link); err != nil {
		f.log.ErrorContext(ctx, "sending verification email failed", "to", to, "error", err)
		return err
	}
	return nil
}

// VerifyEmail consumes the token and marks the login verified on the
// credentials account and the email verified on its user.
func (f *Flows) VerifyEmail(ctx context.Context, identifier, token string) (*authkit.User, error) {
	identifier = authkit.NormalizeLogin(identifier)
	if identifier == "" || token == "" {
		return nil, ErrInvalidToken
	}
	if _, err := f.cfg.Adapter.UseVerificationToken(ctx, identifier, token); err != nil {
		if authkit.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	now := f.cfg.Clock()
	var user *authkit.User
	acct, err := f.account(ctx, identifier)
	switch {
	case err == nil:
		if acct.LoginVerified == nil {
			if _, err := f.ext.Updater.UpdateAccount(ctx, acct.ID, authkit.AccountPatch{LoginVerified: &now}); err != nil {
				return nil, err
			}
		}
		if user, err = f.cfg.Adapter.GetUser(ctx, acct.UserID); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrUnknownLogin):
		if user, err = f.cfg.Adapter.GetUserByEmail(ctx, identifier); err != nil {
			if authkit.IsNotFound(err) {
				return nil, ErrUnknownLogin
			}
			return nil, err
		}
	default:
		return nil, err
	}

	if user.EmailVerified == nil && user.Email != "" {
		return f.cfg.Adapter.UpdateUser(ctx, &authkit.User{ID: user.ID, EmailVerified: &now})
	}
	return user, nil
}

// ResendVerification sends a fresh link unless the login is already
// verified or a link went out within the cooldown.
func (f *Flows) ResendVerification(ctx context.Context, identifier string, r *http.Request) error {
	identifier = authkit.NormalizeLogin(identifier)
	acct, err := f.account(ctx, identifier)
	if err != nil {
		return err
	}
	if acct.LoginVerified != nil {
		return ErrAlreadyVerified
	}
	if err := f.throttle(ctx, "verify:"+identifier); err != nil {
		return err
	}
	return f.CreateVerification(ctx, identifier, r)
}
