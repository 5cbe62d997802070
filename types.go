package authkit

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"
)

// User is an identity record. ID is assigned by the adapter and never
// reassigned. Application specific attributes go in Extra and are flattened
// next to the core fields when serialized.
type User struct {
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified *time.Time
	Extra         map[string]any
}

var userCoreFields = []string{"id", "email", "name", "image", "emailVerified"}

func (u User) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+5)
	maps.Copy(out, u.Extra)
	for _, k := range userCoreFields {
		delete(out, k)
	}
	out["id"] = u.ID
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.Name != "" {
		out["name"] = u.Name
	}
	if u.Image != "" {
		out["image"] = u.Image
	}
	if u.EmailVerified != nil {
		out["emailVerified"] = u.EmailVerified.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*u = *UserFromMap(m)
	return nil
}

// UserFromMap builds a User from a decoded JSON object. Unknown keys land in
// Extra. Core fields of the wrong type are ignored.
func UserFromMap(m map[string]any) *User {
	u := &User{}
	u.ID = stringField(m["id"])
	u.Email, _ = m["email"].(string)
	u.Name, _ = m["name"].(string)
	u.Image, _ = m["image"].(string)
	if s, ok := m["emailVerified"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			u.EmailVerified = &t
		}
	}
	for k, v := range m {
		switch k {
		case "id", "email", "name", "image", "emailVerified":
			continue
		}
		if u.Extra == nil {
			u.Extra = map[string]any{}
		}
		u.Extra[k] = v
	}
	return u
}

// Clone returns a deep enough copy for callers that mutate the result.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.EmailVerified != nil {
		t := *u.EmailVerified
		out.EmailVerified = &t
	}
	out.Extra = maps.Clone(u.Extra)
	return &out
}

type AccountType string

const (
	AccountTypeOAuth       AccountType = "oauth"
	AccountTypeCredentials AccountType = "credentials"
	AccountTypeEmail       AccountType = "email"
)

// Account links one provider credential to a User.
//
// (Provider, ProviderAccountID) is unique when ProviderAccountID is set and
// (Provider, Login) is unique when Login is set.
type Account struct {
	ID                string      `json:"id"`
	UserID            string      `json:"userId"`
	Provider          string      `json:"provider"`
	ProviderAccountID string      `json:"providerAccountId,omitempty"`
	Login             string      `json:"login,omitempty"`
	Type              AccountType `json:"type"`

	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	IDToken      string     `json:"idToken,omitempty"`

	PasswordHash  string     `json:"passwordHash,omitempty"`
	LoginVerified *time.Time `json:"loginVerified,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountKey identifies an account by its provider issued subject.
type AccountKey struct {
	Provider          string
	ProviderAccountID string
}

// SessionRecord is a server tracked session, used by the database strategy.
type SessionRecord struct {
	ID           string    `json:"id"`
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// VerificationToken is a single use secret tied to an identifier. Password
// resets use identifiers prefixed with "reset:".
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// Session is the value carried in the session cookie (jwt strategy) or
// rebuilt from a SessionRecord (database strategy).
type Session struct {
	User         *User
	Expires      time.Time
	IssuedAt     time.Time
	AccessToken  string
	RefreshToken string

	// Extra holds additional claims, typically set by the JWT callback.
	Extra map[string]any
}

// stringField renders ids that providers send as either strings or numbers.
func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}
