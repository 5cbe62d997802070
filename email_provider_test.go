package authkit_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
)

type outbox struct {
	mu    sync.Mutex
	links map[string]string
	fail  bool
}

func (o *outbox) send(_ context.Context, identifier, link string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("smtp down")
	}
	o.links[identifier] = link
	return nil
}

func (o *outbox) link(identifier string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[identifier]
}

func emailHarness(t *testing.T, configure func(cfg *authkit.Config)) (*harness, *outbox) {
	box := &outbox{links: map[string]string{}}
	h := newHarness(t, func(cfg *authkit.Config) {
		cfg.Providers = append(cfg.Providers, &authkit.EmailProvider{Send: box.send})
		if configure != nil {
			configure(cfg)
		}
	})
	return h, box
}

// follow requests an absolute link on the harness server.
func (h *harness) follow(link string) *http.Response {
	h.t.Helper()
	require.True(h.t, strings.HasPrefix(link, h.server.URL), link)
	return h.get(strings.TrimPrefix(link, h.server.URL))
}

func TestEmailSignIn(t *testing.T) {
	h, box := emailHarness(t, nil)

	resp := h.post("/auth/signin/email", url.Values{"email": {" Zoe@Example.com "}, "callbackUrl": {"/inbox"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/verify-request?provider=email", resp.Header.Get("Location"))

	link := box.link("zoe@example.com")
	require.NotEmpty(t, link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback/email", u.Path)
	assert.Equal(t, "zoe@example.com", u.Query().Get("email"))
	assert.Equal(t, "/inbox", u.Query().Get("callbackUrl"))

	resp = h.follow(link)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/inbox", resp.Header.Get("Location"))

	user := h.sessionUser()
	require.NotNil(t, user)
	assert.Equal(t, "zoe@example.com", user["email"])
	assert.NotEmpty(t, user["emailVerified"])

	stored, err := h.store.GetUserByAccount(context.Background(), authkit.AccountKey{Provider: "email", ProviderAccountID: "zoe@example.com"})
	require.NoError(t, err)
	assert.Equal(t, user["id"], stored.ID)

	t.Run("LinkIsSingleUse", func(t *testing.T) {
		h.get("/auth/signout")
		resp := h.follow(link)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Location"), "error=Verification")
		assert.Nil(t, h.sessionUser())
	})
}

func TestEmailSignInExistingUser(t *testing.T) {
	h, box := emailHarness(t, nil)
	existing := h.addUser("yan@example.com", "pw-yan-1234")

	h.post("/auth/signin/email", url.Values{"email": {"yan@example.com"}})
	resp := h.follow(box.link("yan@example.com"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, existing.ID, h.sessionUser()["id"])

	got, err := h.store.GetUser(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EmailVerified, "signing in by email verifies the address")
}

func TestEmailSignInErrors(t *testing.T) {
	h, box := emailHarness(t, nil)

	resp := h.post("/auth/signin/email", url.Values{"email": {"not-an-email"}})
	assert.Contains(t, resp.Header.Get("Location"), "error=EmailSignin")

	resp = h.get("/auth/callback/email?email=x@example.com&token=forged")
	assert.Contains(t, resp.Header.Get("Location"), "error=Verification")

	resp = h.get("/auth/callback/email")
	assert.Contains(t, resp.Header.Get("Location"), "error=Verification")

	box.mu.Lock()
	box.fail = true
	box.mu.Unlock()
	resp = h.post("/auth/signin/email", url.Values{"email": {"x@example.com"}})
	assert.Contains(t, resp.Header.Get("Location"), "error=EmailSignin")
}

func TestVerifyRequestPage(t *testing.T) {
	h, _ := emailHarness(t, nil)
	resp := h.get("/auth/verify-request")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
