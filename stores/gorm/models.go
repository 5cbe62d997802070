//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/panyam/authkit"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("gorm: cannot scan %T into JSONMap", value)
}

// UserModel is the GORM model for users. EmailKey is the lowercased email
// and is NULL for users without one so the unique index ignores them.
type UserModel struct {
	ID            string  `gorm:"primaryKey;size:64"`
	Email         string  `gorm:"size:320"`
	EmailKey      *string `gorm:"size:320;uniqueIndex"`
	Name          string  `gorm:"size:255"`
	Image         string  `gorm:"size:1024"`
	EmailVerified *time.Time
	Extra         JSONMap   `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func emailKey(email string) *string {
	k := strings.ToLower(strings.TrimSpace(email))
	if k == "" {
		return nil
	}
	return &k
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m *UserModel) ToUser() *authkit.User {
	u := &authkit.User{
		ID:            m.ID,
		Email:         m.Email,
		Name:          m.Name,
		Image:         m.Image,
		EmailVerified: m.EmailVerified,
	}
	if len(m.Extra) > 0 {
		u.Extra = map[string]any(m.Extra)
	}
	return u
}

func UserToModel(u *authkit.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Email:         u.Email,
		EmailKey:      emailKey(u.Email),
		Name:          u.Name,
		Image:         u.Image,
		EmailVerified: u.EmailVerified,
		Extra:         JSONMap(u.Extra),
	}
}

// AccountModel is the GORM model for provider accounts. Nullable subject
// and login columns keep the composite unique indexes sparse.
type AccountModel struct {
	ID                string  `gorm:"primaryKey;size:64"`
	UserID            string  `gorm:"size:64;index"`
	Provider          string  `gorm:"size:64;uniqueIndex:idx_account_subject,priority:1;uniqueIndex:idx_account_login,priority:1"`
	ProviderAccountID *string `gorm:"size:255;uniqueIndex:idx_account_subject,priority:2"`
	Login             *string `gorm:"size:320;uniqueIndex:idx_account_login,priority:2"`
	Type              string  `gorm:"size:32"`

	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	ExpiresAt    *time.Time
	TokenType    string `gorm:"size:32"`
	Scope        string `gorm:"type:text"`
	IDToken      string `gorm:"type:text"`

	PasswordHash  string `gorm:"size:255"`
	LoginVerified *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *authkit.Account {
	return &authkit.Account{
		ID:                m.ID,
		UserID:            m.UserID,
		Provider:          m.Provider,
		ProviderAccountID: deref(m.ProviderAccountID),
		Login:             deref(m.Login),
		Type:              authkit.AccountType(m.Type),
		AccessToken:       m.AccessToken,
		RefreshToken:      m.RefreshToken,
		ExpiresAt:         m.ExpiresAt,
		TokenType:         m.TokenType,
		Scope:             m.Scope,
		IDToken:           m.IDToken,
		PasswordHash:      m.PasswordHash,
		LoginVerified:     m.LoginVerified,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func AccountToModel(a *authkit.Account) *AccountModel {
	return &AccountModel{
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: optional(a.ProviderAccountID),
		Login:             optional(a.Login),
		Type:              string(a.Type),
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		ExpiresAt:         a.ExpiresAt,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		PasswordHash:      a.PasswordHash,
		LoginVerified:     a.LoginVerified,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// SessionModel is the GORM model for database strategy sessions
type SessionModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	SessionToken string    `gorm:"size:255;uniqueIndex"`
	UserID       string    `gorm:"size:64;index"`
	Expires      time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSessionRecord() *authkit.SessionRecord {
	return &authkit.SessionRecord{
		ID:           m.ID,
		SessionToken: m.SessionToken,
		UserID:       m.UserID,
		Expires:      m.Expires,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// VerificationTokenModel is the GORM model for single use tokens
type VerificationTokenModel struct {
	Identifier string    `gorm:"primaryKey;size:320"`
	Token      string    `gorm:"primaryKey;size:255"`
	Expires    time.Time `gorm:"index"`
}

func (VerificationTokenModel) TableName() string {
	return "verification_tokens"
}

func (m *VerificationTokenModel) ToVerificationToken() *authkit.VerificationToken {
	return &authkit.VerificationToken{
		Identifier: m.Identifier,
		Token:      m.Token,
		Expires:    m.Expires,
	}
}
