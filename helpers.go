package authkit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/panyam/authkit/password"
)

// PasswordAuthorizerOptions configures PasswordAuthorizer.
type PasswordAuthorizerOptions struct {
	// Provider is the account provider tag. Defaults to "credentials".
	Provider string

	// LoginFields are tried in order to find the login. Defaults to
	// login, email, username.
	LoginFields []string

	// PasswordField defaults to "password".
	PasswordField string

	// Hash is the target for rolling rehash.
	Hash password.Options

	// RequireVerified rejects accounts whose login was never verified.
	RequireVerified bool

	Logger *slog.Logger
}

// PasswordAuthorizer returns an AuthorizeFunc that checks credentials
// against accounts stored through adapter. When a stored hash is weaker than
// opts.Hash and the adapter can update accounts, it is replaced on a
// successful sign-in.
//
// adapter must implement AccountLoginFinder.
func PasswordAuthorizer(adapter Adapter, opts PasswordAuthorizerOptions) (AuthorizeFunc, error) {
	finder, ok := adapter.(AccountLoginFinder)
	if !ok {
		return nil, configError("AccountLoginFinder", "adapter cannot look up accounts by login")
	}
	updater, _ := adapter.(AccountUpdater)

	if opts.Provider == "" {
		opts.Provider = "credentials"
	}
	if len(opts.LoginFields) == 0 {
		opts.LoginFields = []string{"login", "email", "username"}
	}
	if opts.PasswordField == "" {
		opts.PasswordField = "password"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(ctx context.Context, creds map[string]string, _ *http.Request) (*User, error) {
		var login string
		for _, f := range opts.LoginFields {
			if login = NormalizeLogin(creds[f]); login != "" {
				break
			}
		}
		pw := creds[opts.PasswordField]
		if login == "" || pw == "" {
			return nil, nil
		}

		acct, err := finder.GetAccountByLogin(ctx, opts.Provider, login)
		if IsNotFound(err) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}

		ok, err := password.Verify(pw, acct.PasswordHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if opts.RequireVerified && acct.LoginVerified == nil {
			return nil, nil
		}

		user, err := adapter.GetUser(ctx, acct.UserID)
		if err != nil {
			return nil, err
		}

		if updater != nil && password.NeedsRehash(acct.PasswordHash, opts.Hash) {
			rehash(ctx, updater, acct, pw, opts)
		}
		return user, nil
	}, nil
}

func rehash(ctx context.Context, updater AccountUpdater, acct *Account, pw string, opts PasswordAuthorizerOptions) {
	start := time.Now()
	h, err := password.Hash(pw, opts.Hash)
	if err != nil {
		opts.Logger.Warn("password rehash failed", "account", acct.ID, "error", err)
		return
	}
	if _, err := updater.UpdateAccount(ctx, acct.ID, AccountPatch{PasswordHash: &h}); err != nil {
		opts.Logger.Warn("failed to store rehashed password", "account", acct.ID, "error", err)
		return
	}
	opts.Logger.Info("password rehashed", "account", acct.ID, "took", time.Since(start))
}
