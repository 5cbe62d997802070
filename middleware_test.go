package authkit_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
)

// whoami echoes the session user id, or "anonymous".
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	s := authkit.SessionFromContext(r.Context())
	if s == nil || s.User == nil {
		io.WriteString(w, "anonymous")
		return
	}
	io.WriteString(w, s.User.ID)
})

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestMiddleware(t *testing.T) {
	h := newHarness(t, nil)
	h.handler = h.auth.Middleware()(whoami)
	u := h.addUser("mia@example.com", "pw-mia-1234")

	resp := h.get("/anything")
	assert.Equal(t, "anonymous", bodyString(t, resp))

	resp = h.signIn("mia@example.com", "pw-mia-1234")
	assert.Equal(t, http.StatusFound, resp.StatusCode, "auth routes are served by the middleware")

	resp = h.get("/anything")
	assert.Equal(t, u.ID, bodyString(t, resp))
}

func TestProtect(t *testing.T) {
	h := newHarness(t, nil)
	h.handler = authkit.Sequence(
		h.auth.Middleware(),
		h.auth.Protect(authkit.ProtectConfig{
			ProtectedRoutes: []string{"/app/*", "/settings"},
			PublicRoutes:    []string{"/app/public*"},
		}),
	)(whoami)
	u := h.addUser("noa@example.com", "pw-noa-1234")

	resp := h.get("/app/dashboard?tab=1")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/signin?callbackUrl=%2Fapp%2Fdashboard%3Ftab%3D1", resp.Header.Get("Location"))

	resp = h.get("/settings", "Accept", "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", errorBody(t, resp)["code"])

	resp = h.get("/app/public/logo.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "anonymous", bodyString(t, resp))

	resp = h.get("/settings/extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "exact patterns do not match by prefix")

	h.signIn("noa@example.com", "pw-noa-1234")
	resp = h.get("/app/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, u.ID, bodyString(t, resp))
}

func TestProtectCustomSignIn(t *testing.T) {
	h := newHarness(t, nil)
	h.handler = h.auth.Protect(authkit.ProtectConfig{
		ProtectedRoutes:  []string{"/*"},
		SignInURL:        "/login?src=app",
		CallbackURLParam: "next",
	})(whoami)

	resp := h.get("/x")
	assert.Equal(t, "/login?src=app&next=%2Fx", resp.Header.Get("Location"))
}

func TestRequireSession(t *testing.T) {
	h := newHarness(t, nil)
	h.handler = h.auth.RequireSession()(whoami)
	resp := h.get("/", "Accept", "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSequenceOrder(t *testing.T) {
	var order []string
	mw := func(name string) authkit.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := authkit.Sequence(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestMatchRoute(t *testing.T) {
	assert.True(t, authkit.MatchRoute("/app/*", "/app/x/y"))
	assert.True(t, authkit.MatchRoute("/app/*", "/app/"))
	assert.False(t, authkit.MatchRoute("/app/*", "/apps"))
	assert.True(t, authkit.MatchRoute("/exact", "/exact"))
	assert.False(t, authkit.MatchRoute("/exact", "/exact/more"))
}
