//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/authkit"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	Email         string         `datastore:"email"`
	Name          string         `datastore:"name,noindex"`
	Image         string         `datastore:"image,noindex"`
	EmailVerified time.Time      `datastore:"email_verified,noindex"` // zero when unverified
	Extra         []byte         `datastore:"extra,noindex"`          // JSON encoded
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (e *UserEntity) ToUser() *authkit.User {
	u := &authkit.User{
		ID:            e.Key.Name,
		Email:         e.Email,
		Name:          e.Name,
		Image:         e.Image,
		EmailVerified: optionalTime(e.EmailVerified),
	}
	if len(e.Extra) > 0 {
		json.Unmarshal(e.Extra, &u.Extra)
	}
	return u
}

func UserToEntity(u *authkit.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:           key,
		Email:         u.Email,
		Name:          u.Name,
		Image:         u.Image,
		EmailVerified: timeOrZero(u.EmailVerified),
	}
	if len(u.Extra) > 0 {
		e.Extra, _ = json.Marshal(u.Extra)
	}
	return e
}

// IndexEntity points a unique value at the record that owns it. Used for
// UserEmail, AccountSubject and AccountLogin.
type IndexEntity struct {
	Key   *datastore.Key `datastore:"__key__"`
	Owner string         `datastore:"owner"`
}

// AccountEntity is the Datastore entity for provider accounts
type AccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	UserID            string         `datastore:"user_id"`
	Provider          string         `datastore:"provider"`
	ProviderAccountID string         `datastore:"provider_account_id"`
	Login             string         `datastore:"login"`
	Type              string         `datastore:"type"`

	AccessToken  string    `datastore:"access_token,noindex"`
	RefreshToken string    `datastore:"refresh_token,noindex"`
	ExpiresAt    time.Time `datastore:"expires_at,noindex"`
	TokenType    string    `datastore:"token_type,noindex"`
	Scope        string    `datastore:"scope,noindex"`
	IDToken      string    `datastore:"id_token,noindex"`

	PasswordHash  string    `datastore:"password_hash,noindex"`
	LoginVerified time.Time `datastore:"login_verified,noindex"`

	CreatedAt time.Time `datastore:"created_at"`
	UpdatedAt time.Time `datastore:"updated_at"`
}

func (e *AccountEntity) ToAccount() *authkit.Account {
	return &authkit.Account{
		ID:                e.Key.Name,
		UserID:            e.UserID,
		Provider:          e.Provider,
		ProviderAccountID: e.ProviderAccountID,
		Login:             e.Login,
		Type:              authkit.AccountType(e.Type),
		AccessToken:       e.AccessToken,
		RefreshToken:      e.RefreshToken,
		ExpiresAt:         optionalTime(e.ExpiresAt),
		TokenType:         e.TokenType,
		Scope:             e.Scope,
		IDToken:           e.IDToken,
		PasswordHash:      e.PasswordHash,
		LoginVerified:     optionalTime(e.LoginVerified),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func AccountToEntity(a *authkit.Account, key *datastore.Key) *AccountEntity {
	return &AccountEntity{
		Key:               key,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		Login:             a.Login,
		Type:              string(a.Type),
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		ExpiresAt:         timeOrZero(a.ExpiresAt),
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		PasswordHash:      a.PasswordHash,
		LoginVerified:     timeOrZero(a.LoginVerified),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// SessionEntity is the Datastore entity for sessions. Key is the session token.
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	ID        string         `datastore:"id,noindex"`
	UserID    string         `datastore:"user_id"`
	Expires   time.Time      `datastore:"expires"`
	CreatedAt time.Time      `datastore:"created_at"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}

func (e *SessionEntity) ToSessionRecord() *authkit.SessionRecord {
	return &authkit.SessionRecord{
		ID:           e.ID,
		SessionToken: e.Key.Name,
		UserID:       e.UserID,
		Expires:      e.Expires,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

// VerificationTokenEntity is keyed by token under a parent keyed by identifier.
type VerificationTokenEntity struct {
	Key     *datastore.Key `datastore:"__key__"`
	Expires time.Time      `datastore:"expires"`
}

func (e *VerificationTokenEntity) ToVerificationToken() *authkit.VerificationToken {
	return &authkit.VerificationToken{
		Identifier: e.Key.Parent.Name,
		Token:      e.Key.Name,
		Expires:    e.Expires,
	}
}
