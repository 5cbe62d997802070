package oauth2_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/oauth2"
)

// mockGitHubAPI serves /user and /user/emails.
func mockGitHubAPI(t *testing.T, user map[string]any, emails []map[string]any) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		if emails == nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(emails)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGitHubPreset(t *testing.T) {
	p := oauth2.GitHub(oauth2.Options{ClientID: "id", ClientSecret: "secret"})
	assert.Equal(t, "github", p.ID)
	assert.Equal(t, "GitHub", p.Name)
	assert.Equal(t, "https://github.com/login/oauth/authorize", p.AuthURL)
	assert.Equal(t, []string{"read:user", "user:email"}, p.Scopes)
	assert.Equal(t, "https://api.github.com/user", p.UserInfoURL)
}

func TestGitHubReadsCredentialsFromEnv(t *testing.T) {
	t.Setenv("AUTH_GITHUB_ID", " env-id ")
	t.Setenv("AUTH_GITHUB_SECRET", "env-secret")
	p := oauth2.GitHub(oauth2.Options{})
	assert.Equal(t, "env-id", p.ClientID)
	assert.Equal(t, "env-secret", p.ClientSecret)

	p = oauth2.GitHub(oauth2.Options{ClientID: "explicit"})
	assert.Equal(t, "explicit", p.ClientID)
}

func TestGitHubFetchesPrivateEmail(t *testing.T) {
	server := mockGitHubAPI(t,
		map[string]any{"id": 12345, "login": "octocat", "avatar_url": "https://avatars.example.com/o.png"},
		[]map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "octo@example.com", "primary": true, "verified": true},
		})
	p := oauth2.GitHub(oauth2.Options{APIURL: server.URL})

	profile, err := p.FetchProfile(context.Background(), server.Client(), &oauth2lib.Token{AccessToken: "at"})
	require.NoError(t, err)
	assert.Equal(t, "octo@example.com", profile["email"])

	u, err := p.Profile(profile, nil)
	require.NoError(t, err)
	assert.Equal(t, "12345", u.ID)
	assert.Equal(t, "octocat", u.Name)
	assert.Equal(t, "octo@example.com", u.Email)
	assert.Equal(t, "https://avatars.example.com/o.png", u.Image)
}

func TestGitHubWithoutEmailScope(t *testing.T) {
	server := mockGitHubAPI(t, map[string]any{"id": 7, "login": "ghost", "name": "Ghost"}, nil)
	p := oauth2.GitHub(oauth2.Options{APIURL: server.URL})

	profile, err := p.FetchProfile(context.Background(), server.Client(), &oauth2lib.Token{AccessToken: "at"})
	require.NoError(t, err)
	_, hasEmail := profile["email"]
	assert.False(t, hasEmail)

	u, err := p.Profile(profile, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ghost", u.Name)
	assert.Empty(t, u.Email)
}

func TestGooglePreset(t *testing.T) {
	p := oauth2.Google(oauth2.Options{ClientID: "id", Scopes: []string{"openid", "email"}})
	assert.Equal(t, "google", p.ID)
	assert.True(t, p.PKCE)
	assert.Equal(t, []string{"openid", "email"}, p.Scopes)
	assert.Equal(t, "https://openidconnect.googleapis.com/v1/userinfo", p.UserInfoURL)
	assert.Nil(t, p.Profile, "default mapping handles sub and picture")

	u, err := authkit.DefaultProfile(map[string]any{
		"sub":     "1089",
		"email":   "g@example.com",
		"name":    "G",
		"picture": "https://lh3.example.com/p.jpg",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1089", u.ID)
	assert.Equal(t, "https://lh3.example.com/p.jpg", u.Image)
}

func TestDiscordProfile(t *testing.T) {
	p := oauth2.Discord(oauth2.Options{APIURL: "http://localhost:9999/api"})
	assert.Equal(t, "http://localhost:9999/api/users/@me", p.UserInfoURL)

	u, err := p.Profile(map[string]any{
		"id":       "80351110224678912",
		"username": "nelly",
		"avatar":   "8342729096ea3675442027381ff50dfe",
		"email":    "nelly@example.com",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "80351110224678912", u.ID)
	assert.Equal(t, "nelly", u.Name)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png", u.Image)
}
