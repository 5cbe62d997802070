package authkit

import (
	"context"
	"time"
)

// Adapter is the persistence contract consumed by Auth and the flows
// package. Every method takes a context and may block on I/O. No
// transactional guarantees are assumed across calls.
//
// Lookups that find nothing return an *AdapterError with code NOT_FOUND.
// Expired sessions and verification tokens count as not found.
type Adapter interface {
	// CreateUser stores u and returns the stored copy. An empty ID is
	// replaced with a generated one. Fails with DUPLICATE_EMAIL when another
	// user already has the email.
	CreateUser(ctx context.Context, u *User) (*User, error)

	GetUser(ctx context.Context, id string) (*User, error)

	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetUserByAccount(ctx context.Context, key AccountKey) (*User, error)

	// UpdateUser applies the non-zero profile fields of u to the user with
	// u.ID. Extra entries are merged.
	UpdateUser(ctx context.Context, u *User) (*User, error)

	// DeleteUser removes the user along with their accounts and sessions.
	DeleteUser(ctx context.Context, id string) error

	// LinkAccount stores a. Fails with ACCOUNT_ALREADY_LINKED when
	// (provider, providerAccountId) or (provider, login) is taken.
	LinkAccount(ctx context.Context, a *Account) (*Account, error)

	UnlinkAccount(ctx context.Context, key AccountKey) error

	GetAccount(ctx context.Context, key AccountKey) (*Account, error)

	CreateSession(ctx context.Context, s *SessionRecord) (*SessionRecord, error)

	// GetSessionAndUser loads a session by its token. Expired sessions are
	// purged and reported as not found.
	GetSessionAndUser(ctx context.Context, sessionToken string) (*SessionRecord, *User, error)

	// UpdateSession updates the expiry of the session with s.SessionToken.
	UpdateSession(ctx context.Context, s *SessionRecord) (*SessionRecord, error)

	DeleteSession(ctx context.Context, sessionToken string) error

	CreateVerificationToken(ctx context.Context, t *VerificationToken) (*VerificationToken, error)

	// UseVerificationToken atomically reads and deletes the token. Concurrent
	// callers for the same token succeed at most once. Expired tokens are
	// deleted and reported as not found.
	UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)
}

// AccountLoginFinder is implemented by adapters that can look up
// credentials accounts by login. Required by PasswordAuthorizer.
type AccountLoginFinder interface {
	GetAccountByLogin(ctx context.Context, provider, login string) (*Account, error)
}

// AccountPatch lists the account fields UpdateAccount may change. Nil fields
// are left alone.
type AccountPatch struct {
	PasswordHash  *string
	LoginVerified *time.Time
	AccessToken   *string
	RefreshToken  *string
	ExpiresAt     *time.Time
	TokenType     *string
	Scope         *string
	IDToken       *string
}

// Apply copies the set fields of p onto a.
func (p AccountPatch) Apply(a *Account) {
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.LoginVerified != nil {
		t := *p.LoginVerified
		a.LoginVerified = &t
	}
	if p.AccessToken != nil {
		a.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		a.RefreshToken = *p.RefreshToken
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		a.ExpiresAt = &t
	}
	if p.TokenType != nil {
		a.TokenType = *p.TokenType
	}
	if p.Scope != nil {
		a.Scope = *p.Scope
	}
	if p.IDToken != nil {
		a.IDToken = *p.IDToken
	}
}

// AccountUpdater is implemented by adapters that can modify accounts in
// place. Used for password changes, login verification and rolling rehash.
type AccountUpdater interface {
	UpdateAccount(ctx context.Context, id string, patch AccountPatch) (*Account, error)
}

// VerificationTokenFinder is implemented by adapters that can look up a
// verification token without consuming it.
type VerificationTokenFinder interface {
	GetVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)
}

// Extensions are the optional adapter capabilities, probed once.
type Extensions struct {
	LoginFinder AccountLoginFinder
	Updater     AccountUpdater
	TokenFinder VerificationTokenFinder
}

// ProbeExtensions reports which optional interfaces adapter implements.
func ProbeExtensions(adapter Adapter) Extensions {
	var ext Extensions
	if adapter == nil {
		return ext
	}
	ext.LoginFinder, _ = adapter.(AccountLoginFinder)
	ext.Updater, _ = adapter.(AccountUpdater)
	ext.TokenFinder, _ = adapter.(VerificationTokenFinder)
	return ext
}

// ApplyUserPatch copies the non-zero profile fields of patch onto u and
// merges Extra. Adapters use it to implement UpdateUser.
func ApplyUserPatch(u *User, patch *User) {
	if patch.Email != "" {
		u.Email = patch.Email
	}
	if patch.Name != "" {
		u.Name = patch.Name
	}
	if patch.Image != "" {
		u.Image = patch.Image
	}
	if patch.EmailVerified != nil {
		t := *patch.EmailVerified
		u.EmailVerified = &t
	}
	if len(patch.Extra) > 0 {
		if u.Extra == nil {
			u.Extra = map[string]any{}
		}
		for k, v := range patch.Extra {
			u.Extra[k] = v
		}
	}
}
