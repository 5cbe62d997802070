package authkit

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

type SessionStrategy string

const (
	// StrategyJWT keeps the whole session in the signed cookie.
	StrategyJWT SessionStrategy = "jwt"

	// StrategyDatabase stores sessions through the Adapter. The cookie
	// carries an opaque session token.
	StrategyDatabase SessionStrategy = "database"
)

type SessionConfig struct {
	// Strategy defaults to jwt.
	Strategy SessionStrategy

	// MaxAge is the session lifetime. Defaults to 30 days.
	MaxAge time.Duration

	// UpdateAge is how often an active session is reissued. Defaults to 24
	// hours.
	UpdateAge time.Duration
}

type CookieConfig struct {
	// Name prefixes every cookie. Defaults to "authkit".
	Name string

	// Secure forces the Secure attribute and the __Secure- prefix on or off.
	// When nil it follows the scheme of the base URL.
	Secure *bool

	Domain string
}

// Pages are optional application pages used instead of the built-in ones.
type Pages struct {
	SignIn        string
	// SignOut is a confirmation page. GET /signout redirects there and only
	// POST /signout ends the session.
	SignOut       string
	Error         string
	VerifyRequest string

	// NewUser receives users on their first OAuth or email sign-in.
	NewUser string
}

// SignInParams is passed to the SignIn callback.
type SignInParams struct {
	User     *User
	Account  *Account
	Profile  map[string]any
	Provider ProviderInfo
}

// SignInResult is the SignIn callback decision.
type SignInResult struct {
	deny     bool
	redirect string
}

func Allow() SignInResult                 { return SignInResult{} }
func Deny() SignInResult                  { return SignInResult{deny: true} }
func RedirectTo(url string) SignInResult { return SignInResult{redirect: url} }

// JWTParams is passed to the JWT callback. User, Account and Profile are set
// only when Trigger is "signIn".
type JWTParams struct {
	Trigger string
	User    *User
	Account *Account
	Profile map[string]any
}

type Callbacks struct {
	// SignIn may veto a sign-in or redirect elsewhere.
	SignIn func(ctx context.Context, p SignInParams) SignInResult

	// JWT may add or change claims (through s.Extra) before the session
	// token is encoded. jwt strategy only.
	JWT func(ctx context.Context, s *Session, p JWTParams) error

	// Session reshapes the /session response.
	Session func(ctx context.Context, resp map[string]any, s *Session) map[string]any

	// Redirect validates redirect targets. Defaults to allowing relative
	// paths and same origin URLs.
	Redirect func(target, baseURL string) string
}

// Config is the input to New. Zero fields take defaults.
type Config struct {
	// Secret signs and encrypts cookies. At least 32 characters. Falls back
	// to $AUTH_SECRET.
	Secret string

	// BaseURL is the public origin. Falls back to $AUTH_URL, then to the
	// request's scheme and host.
	BaseURL string

	// BasePath is where the auth routes are mounted. Defaults to "/auth".
	BasePath string

	Providers []Provider
	Adapter   Adapter

	Session   SessionConfig
	Cookies   CookieConfig
	Pages     Pages
	Callbacks Callbacks

	Debug  bool
	Logger *slog.Logger

	// Clock and Random default to time.Now and crypto/rand.
	Clock  func() time.Time
	Random io.Reader

	// HTTPClient is used for provider calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// RequireCSRF makes POST /signin/* and /signout check the csrfToken field.
	RequireCSRF bool
}

// withDefaults returns a resolved copy of c. Slices are copied so later
// changes by the caller do not leak in.
func (c Config) withDefaults() Config {
	if c.Secret == "" {
		c.Secret = strings.TrimSpace(os.Getenv("AUTH_SECRET"))
	}
	if c.BaseURL == "" {
		c.BaseURL = strings.TrimSpace(os.Getenv("AUTH_URL"))
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.BasePath == "" {
		c.BasePath = "/auth"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")

	if c.Session.Strategy == "" {
		c.Session.Strategy = StrategyJWT
	}
	if c.Session.MaxAge <= 0 {
		c.Session.MaxAge = 30 * 24 * time.Hour
	}
	if c.Session.UpdateAge <= 0 {
		c.Session.UpdateAge = 24 * time.Hour
	}
	if c.Cookies.Name == "" {
		c.Cookies.Name = "authkit"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Random == nil {
		c.Random = rand.Reader
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Callbacks.Redirect == nil {
		c.Callbacks.Redirect = DefaultRedirect
	}

	providers := make([]Provider, len(c.Providers))
	for i, p := range c.Providers {
		providers[i] = withProviderDefaults(p)
	}
	c.Providers = providers
	return c
}

func (c Config) validate() error {
	if len(c.Secret) < MinSecretLength {
		return configError("Secret", "secret must be at least %d characters", MinSecretLength)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return configError("BaseURL", "base URL %q is not an absolute URL", c.BaseURL)
		}
	}
	switch c.Session.Strategy {
	case StrategyJWT:
	case StrategyDatabase:
		if c.Adapter == nil {
			return configError("Adapter", "database session strategy requires an adapter")
		}
	default:
		return configError("Session.Strategy", "unknown session strategy %q", c.Session.Strategy)
	}

	seen := map[string]bool{}
	for i, p := range c.Providers {
		if isNilProvider(p) {
			return configError("Providers", "provider %d is nil", i)
		}
		info := p.Info()
		if info.ID == "" {
			return configError("Provider.ID", "provider has no id")
		}
		if seen[info.ID] {
			return configError("Provider.ID", "duplicate provider id %q", info.ID)
		}
		seen[info.ID] = true

		switch p := p.(type) {
		case *OAuthProvider:
			if p.AuthURL == "" || p.TokenURL == "" {
				return configError("OAuthProvider.AuthURL", "provider %q needs auth and token URLs", p.ID)
			}
		case *CredentialsProvider:
			if p.Authorize == nil {
				return configError("CredentialsProvider.Authorize", "provider %q has no authorize function", p.ID)
			}
		case *EmailProvider:
			if c.Adapter == nil {
				return configError("Adapter", "email provider %q requires an adapter", p.ID)
			}
			if p.Send == nil {
				return configError("EmailProvider.Send", "email provider %q has no sender", p.ID)
			}
		}
	}
	return nil
}

// DefaultRedirect allows relative paths and URLs on the same origin as
// baseURL. Anything else goes to baseURL.
func DefaultRedirect(target, baseURL string) string {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}
	t, err := url.Parse(target)
	if err == nil && baseURL != "" {
		b, berr := url.Parse(baseURL)
		if berr == nil && t.Scheme == b.Scheme && t.Host == b.Host {
			return target
		}
	}
	if baseURL == "" {
		return "/"
	}
	return baseURL
}
