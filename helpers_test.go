package authkit_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/password"
	"github.com/panyam/authkit/stores/memory"
)

// bareAdapter hides every optional extension of the wrapped adapter.
type bareAdapter struct{ authkit.Adapter }

func seedAccount(t *testing.T, store *memory.Store, login, pw string, opts password.Options, verified bool) (*authkit.User, *authkit.Account) {
	t.Helper()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, &authkit.User{Email: login})
	require.NoError(t, err)
	hash, err := password.Hash(pw, opts)
	require.NoError(t, err)
	acct := &authkit.Account{UserID: u.ID, Provider: "credentials", Login: login, Type: authkit.AccountTypeCredentials, PasswordHash: hash}
	if verified {
		now := time.Now()
		acct.LoginVerified = &now
	}
	acct, err = store.LinkAccount(ctx, acct)
	require.NoError(t, err)
	return u, acct
}

func TestPasswordAuthorizer(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, _ := seedAccount(t, store, "sam@example.com", "s3cret-pass", fastHash, false)

	authorize, err := authkit.PasswordAuthorizer(store, authkit.PasswordAuthorizerOptions{Hash: fastHash})
	require.NoError(t, err)

	got, err := authorize(ctx, map[string]string{"email": "SAM@example.com", "password": "s3cret-pass"}, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	got, err = authorize(ctx, map[string]string{"login": "sam@example.com", "password": "nope"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = authorize(ctx, map[string]string{"login": "sam@example.com"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got, "missing password")

	got, err = authorize(ctx, map[string]string{"username": "ghost", "password": "s3cret-pass"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPasswordAuthorizerRequireVerified(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedAccount(t, store, "unverified@example.com", "s3cret-pass", fastHash, false)
	seedAccount(t, store, "verified@example.com", "s3cret-pass", fastHash, true)

	authorize, err := authkit.PasswordAuthorizer(store, authkit.PasswordAuthorizerOptions{Hash: fastHash, RequireVerified: true})
	require.NoError(t, err)

	got, err := authorize(ctx, map[string]string{"login": "unverified@example.com", "password": "s3cret-pass"}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = authorize(ctx, map[string]string{"login": "verified@example.com", "password": "s3cret-pass"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPasswordAuthorizerRehash(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, acct := seedAccount(t, store, "old@example.com", "s3cret-pass", fastHash, false)

	target := password.Options{Iterations: 2000}
	require.True(t, password.NeedsRehash(acct.PasswordHash, target))

	authorize, err := authkit.PasswordAuthorizer(store, authkit.PasswordAuthorizerOptions{Hash: target})
	require.NoError(t, err)
	got, err := authorize(ctx, map[string]string{"login": "old@example.com", "password": "s3cret-pass"}, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	updated, err := store.GetAccountByLogin(ctx, "credentials", "old@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, acct.PasswordHash, updated.PasswordHash)
	assert.False(t, password.NeedsRehash(updated.PasswordHash, target))

	ok, err := password.Verify("s3cret-pass", updated.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswordAuthorizerNeedsLoginFinder(t *testing.T) {
	_, err := authkit.PasswordAuthorizer(bareAdapter{memory.New()}, authkit.PasswordAuthorizerOptions{})
	var cerr *authkit.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "AccountLoginFinder", cerr.Dependency)
}

func TestProbeExtensions(t *testing.T) {
	ext := authkit.ProbeExtensions(memory.New())
	assert.NotNil(t, ext.LoginFinder)
	assert.NotNil(t, ext.Updater)

	ext = authkit.ProbeExtensions(bareAdapter{memory.New()})
	assert.Nil(t, ext.LoginFinder)
	assert.Nil(t, ext.Updater)
}

func TestLoginNormalization(t *testing.T) {
	assert.Equal(t, authkit.LoginEmail, authkit.DetectLoginType("a@b.com"))
	assert.Equal(t, authkit.LoginPhone, authkit.DetectLoginType("+1 555 0100"))
	assert.Equal(t, authkit.LoginPhone, authkit.DetectLoginType("5550100"))
	assert.Equal(t, authkit.LoginUsername, authkit.DetectLoginType("octocat"))

	assert.Equal(t, "a@b.com", authkit.NormalizeLogin("  A@B.com "))
	assert.Equal(t, "+15550100", authkit.NormalizeLogin("+1 (555) 01-00"))
	assert.Equal(t, "octocat", authkit.NormalizeLogin("OctoCat"))
}

func TestParseForm(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader("a=1&b=two"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	form, err := authkit.ParseForm(r)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "two"}, form)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"a":"1","n":2,"nested":{"x":1}}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	form, err = authkit.ParseForm(r)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, form, "non-string values are skipped")

	r = httptest.NewRequest("POST", "/", strings.NewReader(`[1,2]`))
	r.Header.Set("Content-Type", "application/json")
	_, err = authkit.ParseForm(r)
	assert.Error(t, err)
}

func TestDefaultRedirect(t *testing.T) {
	base := "https://app.example.com"
	assert.Equal(t, "/dash", authkit.DefaultRedirect("/dash", base))
	assert.Equal(t, "https://app.example.com/x", authkit.DefaultRedirect("https://app.example.com/x", base))
	assert.Equal(t, base, authkit.DefaultRedirect("https://evil.example.com/x", base))
	assert.Equal(t, base, authkit.DefaultRedirect("//evil.example.com", base))
	assert.Equal(t, base, authkit.DefaultRedirect("/\\evil.example.com", base))
	assert.Equal(t, "/", authkit.DefaultRedirect("https://evil.example.com", ""))
}

func TestRequestOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://internal:8080/x", nil)
	assert.Equal(t, "http://internal:8080", authkit.RequestOrigin(r))

	r.Header.Set("X-Forwarded-Proto", "https, http")
	r.Header.Set("X-Forwarded-Host", "app.example.com")
	assert.Equal(t, "https://app.example.com", authkit.RequestOrigin(r))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":7}`))
		case "/bad":
			w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	got, err := authkit.GetJSON(ctx, srv.Client(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, float64(7), got["id"])

	_, err = authkit.GetJSON(ctx, srv.Client(), srv.URL+"/bad")
	assert.Error(t, err)

	_, err = authkit.GetJSON(ctx, srv.Client(), srv.URL+"/nope")
	assert.Error(t, err)
}

func TestAdapterErrors(t *testing.T) {
	err := authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s taken", "a@b.com")
	assert.True(t, authkit.HasCode(err, authkit.ErrCodeDuplicateEmail))
	assert.False(t, authkit.IsNotFound(err))
	assert.Contains(t, err.Error(), "a@b.com")

	wrapped := fmt.Errorf("load user: %w", authkit.NewAdapterError(authkit.ErrCodeNotFound, "gone"))
	assert.True(t, authkit.IsNotFound(wrapped))
}
