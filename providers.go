package authkit

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ProviderKind tags the three provider variants.
type ProviderKind string

const (
	KindOAuth       ProviderKind = "oauth"
	KindCredentials ProviderKind = "credentials"
	KindEmail       ProviderKind = "email"
)

// ProviderInfo is the public description of a provider.
type ProviderInfo struct {
	ID   string
	Name string
	Kind ProviderKind
}

// Provider is a sign-in method. The set of implementations is closed:
// *OAuthProvider, *CredentialsProvider and *EmailProvider.
type Provider interface {
	Info() ProviderInfo
	provider()
}

// ProfileFunc maps a provider profile to a User. The returned User's ID is
// the provider account id, not the local user id.
type ProfileFunc func(profile map[string]any, tok *oauth2.Token) (*User, error)

// ProfileFetcher loads the user profile from the provider. client carries
// the access token.
type ProfileFetcher func(ctx context.Context, client *http.Client, tok *oauth2.Token) (map[string]any, error)

// OAuthProvider is a generic OAuth 2.0 authorization code provider.
type OAuthProvider struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string

	// AuthParams are extra query parameters for the authorization URL.
	AuthParams map[string]string

	// AuthStyle controls how client credentials reach the token endpoint.
	AuthStyle oauth2.AuthStyle

	// PKCE enables S256 code challenges.
	PKCE bool

	// Profile maps the fetched profile. Defaults to DefaultProfile.
	Profile ProfileFunc

	// FetchProfile replaces the default GET of UserInfoURL.
	FetchProfile ProfileFetcher

	// AllowDangerousEmailAccountLinking lets this provider sign in to an
	// existing user with the same email that was never linked to it.
	AllowDangerousEmailAccountLinking bool

	// HTTPClient is used for token exchange and profile fetch. Defaults to
	// Config.HTTPClient.
	HTTPClient *http.Client
}

func (p *OAuthProvider) Info() ProviderInfo {
	return ProviderInfo{ID: p.ID, Name: p.Name, Kind: KindOAuth}
}
func (*OAuthProvider) provider() {}

// AuthorizeFunc checks submitted credentials. It returns (nil, nil) when the
// credentials are wrong and an error only for failures that should surface
// as a server error.
type AuthorizeFunc func(ctx context.Context, credentials map[string]string, r *http.Request) (*User, error)

// CredentialsProvider signs users in with submitted form fields.
type CredentialsProvider struct {
	ID   string
	Name string

	// Fields lists the form fields rendered on the default sign-in page.
	Fields []string

	Authorize AuthorizeFunc
}

func (p *CredentialsProvider) Info() ProviderInfo {
	return ProviderInfo{ID: p.ID, Name: p.Name, Kind: KindCredentials}
}
func (*CredentialsProvider) provider() {}

// SendVerificationRequest delivers a magic sign-in link.
type SendVerificationRequest func(ctx context.Context, identifier, url string) error

// EmailProvider signs users in through a single use link sent by email.
// Requires an Adapter.
type EmailProvider struct {
	ID   string
	Name string

	// MaxAge is the link lifetime. Defaults to 24 hours.
	MaxAge time.Duration

	Send SendVerificationRequest
}

func (p *EmailProvider) Info() ProviderInfo {
	return ProviderInfo{ID: p.ID, Name: p.Name, Kind: KindEmail}
}
func (*EmailProvider) provider() {}

// DefaultProfile maps common profile claims: sub or id, name, email and the
// first of image, picture or avatar_url.
func DefaultProfile(profile map[string]any, _ *oauth2.Token) (*User, error) {
	u := &User{}
	if u.ID = stringField(profile["sub"]); u.ID == "" {
		u.ID = stringField(profile["id"])
	}
	u.Name, _ = profile["name"].(string)
	u.Email, _ = profile["email"].(string)
	for _, k := range []string{"image", "picture", "avatar_url"} {
		if s, ok := profile[k].(string); ok && s != "" {
			u.Image = s
			break
		}
	}
	return u, nil
}

// withProviderDefaults fills provider ids and names. Each case returns a
// copy so the caller's provider is not mutated. Nil providers stay nil and
// are rejected by validate.
func withProviderDefaults(p Provider) Provider {
	if isNilProvider(p) {
		return nil
	}
	switch p := p.(type) {
	case *OAuthProvider:
		c := *p
		if c.Name == "" {
			c.Name = c.ID
		}
		if c.Profile == nil {
			c.Profile = DefaultProfile
		}
		return &c
	case *CredentialsProvider:
		c := *p
		if c.ID == "" {
			c.ID = "credentials"
		}
		if c.Name == "" {
			c.Name = "Credentials"
		}
		if len(c.Fields) == 0 {
			c.Fields = []string{"login", "password"}
		}
		return &c
	case *EmailProvider:
		c := *p
		if c.ID == "" {
			c.ID = "email"
		}
		if c.Name == "" {
			c.Name = "Email"
		}
		if c.MaxAge <= 0 {
			c.MaxAge = 24 * time.Hour
		}
		return &c
	default:
		panic("authkit: unknown provider type")
	}
}

// isNilProvider reports a nil interface or a typed nil pointer.
func isNilProvider(p Provider) bool {
	switch p := p.(type) {
	case nil:
		return true
	case *OAuthProvider:
		return p == nil
	case *CredentialsProvider:
		return p == nil
	case *EmailProvider:
		return p == nil
	}
	return false
}
