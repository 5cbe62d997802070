// Package storetest is a conformance suite for authkit.Adapter
// implementations.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
)

// Clock is a settable clock shared between the suite and the adapter.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory returns a fresh, empty adapter that reads time from now.
type Factory func(t *testing.T, now func() time.Time) authkit.Adapter

// RunAdapterTests runs the suite against adapters built by newAdapter.
func RunAdapterTests(t *testing.T, newAdapter Factory) {
	run := func(name string, fn func(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock)) {
		t.Run(name, func(t *testing.T) {
			clock := NewClock()
			fn(t, context.Background(), newAdapter(t, clock.Now), clock)
		})
	}

	run("Users", testUsers)
	run("UpdateUser", testUpdateUser)
	run("Accounts", testAccounts)
	run("Sessions", testSessions)
	run("VerificationTokens", testVerificationTokens)
	run("ConcurrentTokenUse", testConcurrentTokenUse)
	run("DeleteUserCascades", testDeleteUserCascades)
	run("Extensions", testExtensions)
}

func requireCode(t *testing.T, err error, code authkit.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, authkit.HasCode(err, code), "expected %s, got %v", code, err)
}

func createUser(t *testing.T, ctx context.Context, a authkit.Adapter, email string) *authkit.User {
	t.Helper()
	u, err := a.CreateUser(ctx, &authkit.User{Email: email, Name: "Test " + email})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	return u
}

func testUsers(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u := createUser(t, ctx, a, "alice@example.com")

	got, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "Test alice@example.com", got.Name)

	got, err = a.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = a.CreateUser(ctx, &authkit.User{Email: "alice@example.com"})
	requireCode(t, err, authkit.ErrCodeDuplicateEmail)

	_, err = a.GetUser(ctx, "missing")
	requireCode(t, err, authkit.ErrCodeNotFound)
	_, err = a.GetUserByEmail(ctx, "nobody@example.com")
	requireCode(t, err, authkit.ErrCodeNotFound)

	explicit, err := a.CreateUser(ctx, &authkit.User{ID: "fixed-id", Name: "Fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", explicit.ID)
	_, err = a.CreateUser(ctx, &authkit.User{ID: "fixed-id"})
	requireCode(t, err, authkit.ErrCodeDuplicateUser)
}

func testUpdateUser(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u, err := a.CreateUser(ctx, &authkit.User{
		Email: "bob@example.com",
		Name:  "Bob",
		Extra: map[string]any{"role": "member"},
	})
	require.NoError(t, err)

	verified := clock.Now()
	updated, err := a.UpdateUser(ctx, &authkit.User{
		ID:            u.ID,
		Image:         "https://img.example.com/bob.png",
		EmailVerified: &verified,
		Extra:         map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob", updated.Name)
	assert.Equal(t, "https://img.example.com/bob.png", updated.Image)
	require.NotNil(t, updated.EmailVerified)
	assert.Equal(t, verified.Unix(), updated.EmailVerified.Unix())

	got, err := a.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "member", got.Extra["role"])
	assert.Equal(t, "pro", got.Extra["plan"])

	_, err = a.UpdateUser(ctx, &authkit.User{ID: "missing", Name: "x"})
	requireCode(t, err, authkit.ErrCodeNotFound)
}

func testAccounts(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u := createUser(t, ctx, a, "carol@example.com")
	key := authkit.AccountKey{Provider: "github", ProviderAccountID: "gh-42"}

	acct, err := a.LinkAccount(ctx, &authkit.Account{
		UserID:            u.ID,
		Provider:          "github",
		ProviderAccountID: "gh-42",
		Type:              authkit.AccountTypeOAuth,
		AccessToken:       "at",
		Scope:             "read:user",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)

	got, err := a.GetUserByAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	gotAcct, err := a.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "at", gotAcct.AccessToken)
	assert.Equal(t, "read:user", gotAcct.Scope)
	assert.Equal(t, authkit.AccountTypeOAuth, gotAcct.Type)

	other := createUser(t, ctx, a, "dave@example.com")
	_, err = a.LinkAccount(ctx, &authkit.Account{UserID: other.ID, Provider: "github", ProviderAccountID: "gh-42", Type: authkit.AccountTypeOAuth})
	requireCode(t, err, authkit.ErrCodeAccountAlreadyLinked)

	_, err = a.LinkAccount(ctx, &authkit.Account{UserID: u.ID, Provider: "credentials", Login: "carol@example.com", Type: authkit.AccountTypeCredentials})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, &authkit.Account{UserID: other.ID, Provider: "credentials", Login: "carol@example.com", Type: authkit.AccountTypeCredentials})
	requireCode(t, err, authkit.ErrCodeAccountAlreadyLinked)

	require.NoError(t, a.UnlinkAccount(ctx, key))
	_, err = a.GetAccount(ctx, key)
	requireCode(t, err, authkit.ErrCodeNotFound)
	_, err = a.GetUserByAccount(ctx, key)
	requireCode(t, err, authkit.ErrCodeNotFound)
	requireCode(t, a.UnlinkAccount(ctx, key), authkit.ErrCodeNotFound)
}

func testSessions(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u := createUser(t, ctx, a, "erin@example.com")

	_, err := a.CreateSession(ctx, &authkit.SessionRecord{
		SessionToken: "sess-1",
		UserID:       u.ID,
		Expires:      clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec, user, err := a.GetSessionAndUser(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.UserID)
	assert.Equal(t, u.ID, user.ID)
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), rec.Expires.Unix())

	newExpiry := clock.Now().Add(2 * time.Hour)
	updated, err := a.UpdateSession(ctx, &authkit.SessionRecord{SessionToken: "sess-1", Expires: newExpiry})
	require.NoError(t, err)
	assert.Equal(t, newExpiry.Unix(), updated.Expires.Unix())

	clock.Advance(3 * time.Hour)
	_, _, err = a.GetSessionAndUser(ctx, "sess-1")
	requireCode(t, err, authkit.ErrCodeNotFound)

	_, err = a.CreateSession(ctx, &authkit.SessionRecord{SessionToken: "sess-2", UserID: u.ID, Expires: clock.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, a.DeleteSession(ctx, "sess-2"))
	_, _, err = a.GetSessionAndUser(ctx, "sess-2")
	requireCode(t, err, authkit.ErrCodeNotFound)
}

func testVerificationTokens(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	_, err := a.CreateVerificationToken(ctx, &authkit.VerificationToken{
		Identifier: "frank@example.com",
		Token:      "tok-1",
		Expires:    clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := a.UseVerificationToken(ctx, "frank@example.com", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Token)

	_, err = a.UseVerificationToken(ctx, "frank@example.com", "tok-1")
	requireCode(t, err, authkit.ErrCodeNotFound)

	// wrong identifier does not match
	_, err = a.CreateVerificationToken(ctx, &authkit.VerificationToken{Identifier: "frank@example.com", Token: "tok-2", Expires: clock.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = a.UseVerificationToken(ctx, "mallory@example.com", "tok-2")
	requireCode(t, err, authkit.ErrCodeNotFound)

	// expired tokens are rejected at use time
	_, err = a.CreateVerificationToken(ctx, &authkit.VerificationToken{Identifier: "frank@example.com", Token: "tok-3", Expires: clock.Now().Add(time.Minute)})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = a.UseVerificationToken(ctx, "frank@example.com", "tok-3")
	requireCode(t, err, authkit.ErrCodeNotFound)
}

func testConcurrentTokenUse(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	_, err := a.CreateVerificationToken(ctx, &authkit.VerificationToken{Identifier: "race@example.com", Token: "once", Expires: clock.Now().Add(time.Hour)})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.UseVerificationToken(ctx, "race@example.com", "once"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testDeleteUserCascades(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u := createUser(t, ctx, a, "gina@example.com")
	key := authkit.AccountKey{Provider: "google", ProviderAccountID: "g-1"}
	_, err := a.LinkAccount(ctx, &authkit.Account{UserID: u.ID, Provider: "google", ProviderAccountID: "g-1", Type: authkit.AccountTypeOAuth})
	require.NoError(t, err)
	_, err = a.CreateSession(ctx, &authkit.SessionRecord{SessionToken: "gina-sess", UserID: u.ID, Expires: clock.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, a.DeleteUser(ctx, u.ID))

	_, err = a.GetUser(ctx, u.ID)
	requireCode(t, err, authkit.ErrCodeNotFound)
	_, err = a.GetAccount(ctx, key)
	requireCode(t, err, authkit.ErrCodeNotFound)
	_, _, err = a.GetSessionAndUser(ctx, "gina-sess")
	requireCode(t, err, authkit.ErrCodeNotFound)

	// the email is free again
	_, err = a.CreateUser(ctx, &authkit.User{Email: "gina@example.com"})
	require.NoError(t, err)
}

func testExtensions(t *testing.T, ctx context.Context, a authkit.Adapter, clock *Clock) {
	u := createUser(t, ctx, a, "hank@example.com")
	acct, err := a.LinkAccount(ctx, &authkit.Account{
		UserID:       u.ID,
		Provider:     "credentials",
		Login:        "hank@example.com",
		Type:         authkit.AccountTypeCredentials,
		PasswordHash: "old-hash",
	})
	require.NoError(t, err)

	if finder, ok := a.(authkit.AccountLoginFinder); ok {
		got, err := finder.GetAccountByLogin(ctx, "credentials", "hank@example.com")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, "old-hash", got.PasswordHash)

		_, err = finder.GetAccountByLogin(ctx, "credentials", "nobody@example.com")
		requireCode(t, err, authkit.ErrCodeNotFound)
	}

	if updater, ok := a.(authkit.AccountUpdater); ok {
		newHash := "new-hash"
		verified := clock.Now()
		got, err := updater.UpdateAccount(ctx, acct.ID, authkit.AccountPatch{PasswordHash: &newHash, LoginVerified: &verified})
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		require.NotNil(t, got.LoginVerified)
		assert.Equal(t, verified.Unix(), got.LoginVerified.Unix())
		assert.Equal(t, "hank@example.com", got.Login)

		_, err = updater.UpdateAccount(ctx, "missing", authkit.AccountPatch{PasswordHash: &newHash})
		requireCode(t, err, authkit.ErrCodeNotFound)
	}

	if finder, ok := a.(authkit.VerificationTokenFinder); ok {
		_, err := a.CreateVerificationToken(ctx, &authkit.VerificationToken{Identifier: "reset:hank@example.com", Token: "peek", Expires: clock.Now().Add(time.Hour)})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			got, err := finder.GetVerificationToken(ctx, "reset:hank@example.com", "peek")
			require.NoError(t, err)
			assert.Equal(t, "peek", got.Token)
		}
		_, err = a.UseVerificationToken(ctx, "reset:hank@example.com", "peek")
		require.NoError(t, err)
		_, err = finder.GetVerificationToken(ctx, "reset:hank@example.com", "peek")
		requireCode(t, err, authkit.ErrCodeNotFound)
	}
}
