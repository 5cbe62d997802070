package flows

import (
	"context"
	"net/http"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/password"
)

// RegisterInput is a new credentials user.
type RegisterInput struct {
	// Login is an email, phone number or username.
	Login    string
	Password string
	Name     string
	// Email is used when Login is not an email.
	Email string
	Extra map[string]any
}

// Register creates a user with a credentials account and, when the user has
// an email address, sends a verification link. A failed send is logged and
// does not fail the registration.
func (f *Flows) Register(ctx context.Context, in RegisterInput, r *http.Request) (*authkit.User, error) {
	login := authkit.NormalizeLogin(in.Login)
	if login == "" {
		return nil, ErrUnknownLogin
	}
	if err := f.checkPolicy(in.Password); err != nil {
		return nil, err
	}
	if _, err := f.account(ctx, login); err == nil {
		return nil, ErrLoginTaken
	}

	email := in.Email
	if authkit.DetectLoginType(login) == authkit.LoginEmail {
		email = login
	}
	h, err := password.Hash(in.Password, f.cfg.Hash)
	if err != nil {
		return nil, err
	}

	user, err := f.cfg.Adapter.CreateUser(ctx, &authkit.User{Email: email, Name: in.Name, Extra: in.Extra})
	if err != nil {
		if authkit.HasCode(err, authkit.ErrCodeDuplicateEmail) {
			return nil, ErrLoginTaken
		}
		return nil, err
	}
	_, err = f.cfg.Adapter.LinkAccount(ctx, &authkit.Account{
		UserID:       user.ID,
		Provider:     f.cfg.Provider,
		Login:        login,
		Type:         authkit.AccountTypeCredentials,
		PasswordHash: h,
	})
	if err != nil {
		if derr := f.cfg.Adapter.DeleteUser(ctx, user.ID); derr != nil {
			f.log.ErrorContext(ctx, "removing half registered user failed", "user", user.ID, "error", derr)
		}
		if authkit.HasCode(err, authkit.ErrCodeAccountAlreadyLinked) {
			return nil, ErrLoginTaken
		}
		return nil, err
	}

	if email != "" {
		if err := f.CreateVerification(ctx, login, r); err != nil {
			f.log.WarnContext(ctx, "verification not sent after registration", "login", login, "error", err)
		}
	}
	f.log.InfoContext(ctx, "user registered", "user", user.ID)
	return user, nil
}
