// Package flows implements the account lifecycle around credentials sign-in:
// registration, email verification and password reset. Tokens are single
// use VerificationTokens stored through the authkit.Adapter. Reset tokens
// share the table under identifiers prefixed with "reset:".
package flows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/password"
	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/secure"
)

// Default token lifetimes.
const (
	VerificationMaxAge = 24 * time.Hour
	ResetMaxAge        = time.Hour
	DefaultCooldown    = time.Minute
)

// ResetPrefix marks password reset identifiers in the verification token table.
const ResetPrefix = "reset:"

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrAlreadyVerified = errors.New("already verified")
	ErrRateLimited     = errors.New("too many requests")
	ErrUnknownLogin    = errors.New("unknown login")
	ErrLoginTaken      = errors.New("login already registered")
)

// PolicyError lists every password rule a candidate violated.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}

// RateLimitError wraps ErrRateLimited with the time until the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Config configures Flows.
type Config struct {
	Adapter authkit.Adapter
	Sender  EmailSender

	// BaseURL is the public origin used in emailed links. When empty the
	// origin of the triggering request is used.
	BaseURL string

	// BasePath is where Handler is mounted. Defaults to "/auth".
	BasePath string

	// Provider is the credentials account provider tag. Defaults to "credentials".
	Provider string

	Hash   password.Options
	Policy PasswordPolicy

	VerificationMaxAge time.Duration
	ResetMaxAge        time.Duration

	// Limiter throttles resends and reset requests per identifier. Defaults
	// to an in-memory limiter allowing one request per minute.
	Limiter ratelimit.Limiter

	Logger *slog.Logger
	Clock  func() time.Time
	Random io.Reader
}

// Flows runs the verification, reset and registration flows.
type Flows struct {
	cfg Config
	ext authkit.Extensions
	log *slog.Logger
}

// New checks cfg and fills defaults. The adapter must support looking up
// and updating accounts by login.
func New(cfg Config) (*Flows, error) {
	if cfg.Adapter == nil {
		return nil, &authkit.ConfigurationError{Dependency: "Adapter", Message: "flows need an adapter"}
	}
	ext := authkit.ProbeExtensions(cfg.Adapter)
	if ext.LoginFinder == nil || ext.Updater == nil {
		return nil, &authkit.ConfigurationError{
			Dependency: "AccountLoginFinder, AccountUpdater",
			Message:    "adapter cannot look up or update accounts by login",
		}
	}
	if cfg.Sender == nil {
		cfg.Sender = &LogEmailSender{Logger: cfg.Logger}
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/auth"
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Provider == "" {
		cfg.Provider = "credentials"
	}
	if cfg.VerificationMaxAge <= 0 {
		cfg.VerificationMaxAge = VerificationMaxAge
	}
	if cfg.ResetMaxAge <= 0 {
		cfg.ResetMaxAge = ResetMaxAge
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewMemoryLimiter(ratelimit.Cooldown(DefaultCooldown), ratelimit.WithClock(cfg.Clock))
	}
	if cfg.Random == nil {
		cfg.Random = secure.Reader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flows{cfg: cfg, ext: ext, log: cfg.Logger}, nil
}

func (f *Flows) newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(f.cfg.Random, b); err != nil {
		return "", fmt.Errorf("flows: generating token: %w", err)
	}
	return secure.Base64URLEncode(b), nil
}

// linkURL builds an absolute link to route under BasePath. r may be nil.
func (f *Flows) linkURL(r *http.Request, route string, query url.Values) (string, error) {
	base := f.cfg.BaseURL
	if base == "" && r != nil {
		base = authkit.RequestOrigin(r)
	}
	if base == "" {
		return "", &authkit.ConfigurationError{
			Dependency: "BaseURL",
			Message:    "cannot build " + route + " link without a base URL or request",
		}
	}
	return base + f.cfg.BasePath + "/" + route + "?" + query.Encode(), nil
}

func (f *Flows) throttle(ctx context.Context, key string) error {
	res, err := f.cfg.Limiter.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

// account finds the credentials account for a normalized login.
func (f *Flows) account(ctx context.Context, login string) (*authkit.Account, error) {
	acct, err := f.ext.LoginFinder.GetAccountByLogin(ctx, f.cfg.Provider, login)
	if authkit.IsNotFound(err) {
		return nil, ErrUnknownLogin
	}
	return acct, err
}

// recipient is the address emails for login go to.
func (f *Flows) recipient(ctx context.Context, login string, acct *authkit.Account) string {
	if authkit.DetectLoginType(login) == authkit.LoginEmail {
		return login
	}
	if acct != nil {
		if u, err := f.cfg.Adapter.GetUser(ctx, acct.UserID); err == nil {
			return u.Email
		}
	}
	return ""
}
