package flows_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/flows"
	"github.com/panyam/authkit/password"
	"github.com/panyam/authkit/stores/memory"
)

type sentEmail struct {
	kind, to, link string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (c *captureSender) SendVerificationEmail(ctx context.Context, to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEmail{"verify", to, link})
	return nil
}

func (c *captureSender) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEmail{"reset", to, link})
	return nil
}

func (c *captureSender) last(t *testing.T) (sentEmail, url.Values) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	e := c.sent[len(c.sent)-1]
	u, err := url.Parse(e.link)
	require.NoError(t, err)
	return e, u.Query()
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	flows  *flows.Flows
	store  *memory.Store
	sender *captureSender
	clock  *clock
}

// cheap hashes keep the tests fast
var testHash = password.Options{Iterations: 1000}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(c.Now))
	sender := &captureSender{}
	f, err := flows.New(flows.Config{
		Adapter: store,
		Sender:  sender,
		BaseURL: "https://app.example.com",
		Hash:    testHash,
		Clock:   c.Now,
	})
	require.NoError(t, err)
	return &fixture{flows: f, store: store, sender: sender, clock: c}
}

func (fx *fixture) register(t *testing.T, login, pw string) *authkit.User {
	t.Helper()
	u, err := fx.flows.Register(context.Background(), flows.RegisterInput{Login: login, Password: pw, Name: "Test"}, nil)
	require.NoError(t, err)
	return u
}

func TestRegisterSendsVerification(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "Alice@Example.com", "correct-horse")
	assert.Equal(t, "alice@example.com", u.Email)

	acct, err := fx.store.GetAccountByLogin(ctx, "credentials", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, acct.UserID)
	ok, err := password.Verify("correct-horse", acct.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	email, q := fx.sender.last(t)
	assert.Equal(t, "verify", email.kind)
	assert.Equal(t, "alice@example.com", email.to)
	assert.True(t, strings.HasPrefix(email.link, "https://app.example.com/auth/verify-email?"))
	assert.Equal(t, "alice@example.com", q.Get("identifier"))
	assert.NotEmpty(t, q.Get("token"))

	_, err = fx.flows.Register(ctx, flows.RegisterInput{Login: "alice@example.com", Password: "another-pass"}, nil)
	assert.ErrorIs(t, err, flows.ErrLoginTaken)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.flows.Register(context.Background(), flows.RegisterInput{Login: "bob@example.com", Password: "short"}, nil)
	var policy *flows.PolicyError
	require.ErrorAs(t, err, &policy)
	assert.Len(t, policy.Violations, 1)

	_, err = fx.store.GetUserByEmail(context.Background(), "bob@example.com")
	assert.True(t, authkit.IsNotFound(err))
}

func TestVerifyEmailIsSingleUse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "carol@example.com", "correct-horse")
	_, q := fx.sender.last(t)

	u, err := fx.flows.VerifyEmail(ctx, q.Get("identifier"), q.Get("token"))
	require.NoError(t, err)
	require.NotNil(t, u.EmailVerified)
	assert.Equal(t, fx.clock.now, *u.EmailVerified)

	acct, err := fx.store.GetAccountByLogin(ctx, "credentials", "carol@example.com")
	require.NoError(t, err)
	assert.NotNil(t, acct.LoginVerified)

	_, err = fx.flows.VerifyEmail(ctx, q.Get("identifier"), q.Get("token"))
	assert.ErrorIs(t, err, flows.ErrInvalidToken)
}

func TestVerifyEmailRejectsExpiredToken(t *testing.T) {
	fx := newFixture(t)
	fx.register(t, "dan@example.com", "correct-horse")
	_, q := fx.sender.last(t)

	fx.clock.now = fx.clock.now.Add(flows.VerificationMaxAge + time.Minute)
	_, err := fx.flows.VerifyEmail(context.Background(), q.Get("identifier"), q.Get("token"))
	assert.ErrorIs(t, err, flows.ErrInvalidToken)
}

func TestResendVerification(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "erin@example.com", "correct-horse")

	require.NoError(t, fx.flows.ResendVerification(ctx, "erin@example.com", nil))

	err := fx.flows.ResendVerification(ctx, "erin@example.com", nil)
	var limited *flows.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.ErrorIs(t, err, flows.ErrRateLimited)
	assert.Equal(t, flows.DefaultCooldown, limited.RetryAfter)

	fx.clock.now = fx.clock.now.Add(flows.DefaultCooldown + time.Second)
	require.NoError(t, fx.flows.ResendVerification(ctx, "erin@example.com", nil))

	_, q := fx.sender.last(t)
	_, err = fx.flows.VerifyEmail(ctx, q.Get("identifier"), q.Get("token"))
	require.NoError(t, err)

	err = fx.flows.ResendVerification(ctx, "erin@example.com", nil)
	assert.ErrorIs(t, err, flows.ErrAlreadyVerified)
}

func TestPasswordReset(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "frank@example.com", "correct-horse")

	require.NoError(t, fx.flows.RequestPasswordReset(ctx, "Frank@Example.com", nil))
	email, q := fx.sender.last(t)
	assert.Equal(t, "reset", email.kind)
	assert.Equal(t, "frank@example.com", q.Get("login"))
	tok := q.Get("token")

	// checking does not consume
	require.NoError(t, fx.flows.CheckResetToken(ctx, "frank@example.com", tok))
	require.NoError(t, fx.flows.CheckResetToken(ctx, "frank@example.com", tok))

	// a weak password leaves the token usable
	var policy *flows.PolicyError
	require.ErrorAs(t, fx.flows.ResetPassword(ctx, "frank@example.com", tok, "weak"), &policy)

	require.NoError(t, fx.flows.ResetPassword(ctx, "frank@example.com", tok, "battery-staple"))
	acct, err := fx.store.GetAccountByLogin(ctx, "credentials", "frank@example.com")
	require.NoError(t, err)
	ok, err := password.Verify("battery-staple", acct.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, fx.flows.ResetPassword(ctx, "frank@example.com", tok, "battery-staple-2"), flows.ErrInvalidToken)
	assert.ErrorIs(t, fx.flows.CheckResetToken(ctx, "frank@example.com", tok), flows.ErrInvalidToken)
}

func TestResetTokenExpires(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "gina@example.com", "correct-horse")
	require.NoError(t, fx.flows.RequestPasswordReset(ctx, "gina@example.com", nil))
	_, q := fx.sender.last(t)

	fx.clock.now = fx.clock.now.Add(flows.ResetMaxAge + time.Second)
	assert.ErrorIs(t, fx.flows.CheckResetToken(ctx, "gina@example.com", q.Get("token")), flows.ErrInvalidToken)
	assert.ErrorIs(t, fx.flows.ResetPassword(ctx, "gina@example.com", q.Get("token"), "battery-staple"), flows.ErrInvalidToken)
}

func TestResetForUnknownLoginIsSilent(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.flows.RequestPasswordReset(context.Background(), "nobody@example.com", nil))
	assert.Empty(t, fx.sender.sent)
}

func TestMissingBaseURLIsConfigurationError(t *testing.T) {
	store := memory.New()
	f, err := flows.New(flows.Config{Adapter: store, Sender: &captureSender{}})
	require.NoError(t, err)

	err = f.CreateVerification(context.Background(), "a@example.com", nil)
	var cfgErr *authkit.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "BaseURL", cfgErr.Dependency)

	// the request supplies the origin
	r := httptest.NewRequest(http.MethodPost, "http://localhost:8080/auth/register", nil)
	require.NoError(t, f.CreateVerification(context.Background(), "a@example.com", r))
}

type plainAdapter struct{ authkit.Adapter }

func TestNewRequiresAccountExtensions(t *testing.T) {
	_, err := flows.New(flows.Config{Adapter: plainAdapter{memory.New()}})
	var cfgErr *authkit.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestValidatePasswordReportsAllViolations(t *testing.T) {
	v := flows.ValidatePassword("abc", flows.StrongPasswordPolicy())
	assert.Equal(t, []string{
		"must be at least 12 characters",
		"must contain an uppercase letter",
		"must contain a digit",
		"must contain a special character",
	}, v)

	assert.Empty(t, flows.ValidatePassword("Tr0ub4dor&3-long", flows.StrongPasswordPolicy()))
	assert.Empty(t, flows.ValidatePassword("eightchr", flows.PasswordPolicy{}))
}

func TestHandler(t *testing.T) {
	fx := newFixture(t)
	h := fx.flows.Handler()

	post := func(path string, body map[string]string) *httptest.ResponseRecorder {
		form := url.Values{}
		for k, v := range body {
			form.Set(k, v)
		}
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	rec := post("/auth/register", map[string]string{"email": "hank@example.com", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "WEAK_PASSWORD", decode(rec)["code"])

	rec = post("/auth/register", map[string]string{"email": "hank@example.com", "password": "correct-horse", "name": "Hank"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = post("/auth/register", map[string]string{"email": "hank@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, q := fx.sender.last(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/verify-email?"+q.Encode(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(rec)["success"])

	rec = post("/auth/resend-verification", map[string]string{"email": "hank@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post("/auth/forgot-password", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post("/auth/forgot-password", map[string]string{"email": "hank@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post("/auth/forgot-password", map[string]string{"email": "hank@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	_, q = fx.sender.last(t)
	req = httptest.NewRequest(http.MethodGet, "/auth/reset-password?"+q.Encode(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post("/auth/reset-password", map[string]string{"login": q.Get("login"), "token": q.Get("token"), "password": "battery-staple"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post("/auth/reset-password", map[string]string{"login": q.Get("login"), "token": q.Get("token"), "password": "battery-staple"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(rec)["code"])

	req = httptest.NewRequest(http.MethodGet, "/auth/register", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
